package user

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/mail"
	"regexp"
	"strings"

	"github.com/getsentry/sentry-go"
)

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

const (
	maxJSONBodyBytes  = 1 << 20
	maxImageBodyBytes = 10 << 20
)

// ImageUploader pushes a profile image to external storage and returns its
// public URL.
type ImageUploader interface {
	UploadProfileImage(ctx context.Context, username, filename string, contents []byte) (string, error)
}

type Handler struct {
	service  *Service
	uploader ImageUploader
}

func NewHandler(service *Service, uploader ImageUploader) *Handler {
	return &Handler{service: service, uploader: uploader}
}

type registerRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	Email     string `json:"email"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body registerRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.FirstName = strings.TrimSpace(body.FirstName)
	body.LastName = strings.TrimSpace(body.LastName)
	body.Username = strings.TrimSpace(body.Username)
	body.Email = strings.TrimSpace(body.Email)
	if !validName(body.FirstName) || !validName(body.LastName) {
		writeError(w, http.StatusBadRequest, "name format is invalid")
		return
	}
	if !usernameRegex.MatchString(body.Username) {
		writeError(w, http.StatusBadRequest, "username format is invalid")
		return
	}
	if !validEmail(body.Email) {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}

	created, err := h.service.Register(r.Context(), body.FirstName, body.LastName, body.Username, body.Email)
	if err != nil {
		writeServiceError(w, err, "failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	created, err := h.service.AddUser(r.Context(), input)
	if err != nil {
		writeServiceError(w, err, "failed to add user")
		return
	}

	writeJSON(w, http.StatusOK, created)
}

type updateRequest struct {
	CurrentUsername string `json:"current_username"`
	Input
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body updateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.CurrentUsername = strings.TrimSpace(body.CurrentUsername)
	if body.CurrentUsername == "" {
		writeError(w, http.StatusBadRequest, "current_username is required")
		return
	}
	if !validInput(w, &body.Input) {
		return
	}

	updated, err := h.service.UpdateUser(r.Context(), body.CurrentUsername, body.Input)
	if err != nil {
		writeServiceError(w, err, "failed to update user")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	u, err := h.service.Find(r.Context(), username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to find user")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	if err := h.service.Delete(r.Context(), username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.PathValue("email"))
	if !validEmail(email) {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}

	if err := h.service.ResetPassword(r.Context(), email); err != nil {
		if errors.Is(err, ErrEmailNotFound) {
			writeError(w, http.StatusNotFound, "no user found for email")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to reset password")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "email sent to: " + email})
}

// UpdateProfileImage accepts a multipart upload, pushes it to the image
// store and records the returned URL on the account.
func (h *Handler) UpdateProfileImage(w http.ResponseWriter, r *http.Request) {
	if h.uploader == nil {
		writeError(w, http.StatusInternalServerError, "image uploader is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageBodyBytes)
	if err := r.ParseMultipartForm(maxImageBodyBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	if !usernameRegex.MatchString(username) {
		writeError(w, http.StatusBadRequest, "username format is invalid")
		return
	}

	file, header, err := r.FormFile("profile_image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "profile_image file is required")
		return
	}
	defer file.Close()

	contents, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read profile_image")
		return
	}
	if !isImageContent(contents) {
		writeError(w, http.StatusBadRequest, "profile_image must be a jpeg, png or gif file")
		return
	}

	imageURL, err := h.uploader.UploadProfileImage(r.Context(), username, header.Filename, contents)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusBadGateway, "failed to upload image")
		return
	}

	updated, err := h.service.UpdateProfileImage(r.Context(), username, imageURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to update profile image")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// ProfileImage answers a public redirect to the stored image URL.
func (h *Handler) ProfileImage(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	u, err := h.service.Find(r.Context(), username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to find user")
		return
	}
	if u.ProfileImageURL == "" {
		writeError(w, http.StatusNotFound, "no profile image")
		return
	}

	http.Redirect(w, r, u.ProfileImageURL, http.StatusFound)
}

func parseInput(w http.ResponseWriter, r *http.Request) (Input, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input Input
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return Input{}, false
	}

	if !validInput(w, &input) {
		return Input{}, false
	}

	return input, true
}

func validInput(w http.ResponseWriter, input *Input) bool {
	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.TrimSpace(input.Email)

	if !validName(input.FirstName) || !validName(input.LastName) {
		writeError(w, http.StatusBadRequest, "name format is invalid")
		return false
	}
	if !usernameRegex.MatchString(input.Username) {
		writeError(w, http.StatusBadRequest, "username format is invalid")
		return false
	}
	if !validEmail(input.Email) {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return false
	}
	if !input.Role.Valid() {
		writeError(w, http.StatusBadRequest, "role is invalid")
		return false
	}

	return true
}

func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrUsernameExists):
		writeError(w, http.StatusConflict, "username already exists")
	case errors.Is(err, ErrEmailExists):
		writeError(w, http.StatusConflict, "email already exists")
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, "user not found")
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func validName(name string) bool {
	return name != "" && len(name) <= 64
}

func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isImageContent(contents []byte) bool {
	contentType := http.DetectContentType(contents)
	switch contentType {
	case "image/jpeg", "image/png", "image/gif":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
