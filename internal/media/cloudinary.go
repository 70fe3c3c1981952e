package media

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Cloudinary uploads profile images and returns their public URLs. Uploads
// are keyed by username so replacing an image overwrites the previous one.
type Cloudinary struct {
	apiKey     string
	apiSecret  string
	uploadURL  string
	folder     string
	httpClient *http.Client
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func NewCloudinary(rawURL string) (*Cloudinary, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse cloudinary url: %w", err)
	}

	if parsed.Scheme != "cloudinary" {
		return nil, fmt.Errorf("invalid cloudinary scheme")
	}

	apiKey := parsed.User.Username()
	apiSecret, ok := parsed.User.Password()
	if !ok {
		return nil, fmt.Errorf("missing cloudinary api secret")
	}
	cloudName := parsed.Hostname()
	if apiKey == "" || apiSecret == "" || cloudName == "" {
		return nil, fmt.Errorf("invalid cloudinary credentials")
	}

	return &Cloudinary{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		uploadURL: fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/image/upload", cloudName),
		folder:    "profile",
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}, nil
}

// UploadProfileImage pushes the image bytes under a per-username public id
// and returns the served URL.
func (c *Cloudinary) UploadProfileImage(ctx context.Context, username, filename string, contents []byte) (string, error) {
	publicID := c.folder + "/" + username
	timestamp := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	signature := c.sign(map[string]string{
		"overwrite": "true",
		"public_id": publicID,
		"timestamp": timestamp,
	})

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := map[string]string{
		"api_key":   c.apiKey,
		"overwrite": "true",
		"public_id": publicID,
		"timestamp": timestamp,
		"signature": signature,
	}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return "", fmt.Errorf("write form field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(contents); err != nil {
		return "", fmt.Errorf("write image contents: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read upload response: %w", err)
	}

	var decoded uploadResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("cloudinary upload failed: %s", decoded.Error.Message)
	}
	if res.StatusCode != http.StatusOK || decoded.SecureURL == "" {
		return "", fmt.Errorf("cloudinary upload failed with status %d", res.StatusCode)
	}

	return decoded.SecureURL, nil
}

// sign builds the request signature over the sorted parameter string, per
// the upload API contract.
func (c *Cloudinary) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+params[key])
	}

	digest := sha1.Sum([]byte(strings.Join(pairs, "&") + c.apiSecret))
	return hex.EncodeToString(digest[:])
}
