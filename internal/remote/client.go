// Package remote is the typed client for the authority's REST API.
// All calls ride the authenticated transport, so token expiry and the
// single retry are invisible here.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/spotsync/client/internal/models"
	"github.com/spotsync/client/internal/transport"
)

// Client exposes one method per authority endpoint.
type Client struct {
	t *transport.Client
}

// NewClient creates a new API client on top of the transport.
func NewClient(t *transport.Client) *Client {
	return &Client{t: t}
}

// LoginResponse is the payload of the credential-issuing endpoints.
type LoginResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         *models.User `json:"user"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

// Login exchanges a username/password for a credential pair. The call
// bypasses credential attachment and is never refresh-retried.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var resp LoginResponse
	err := c.t.DoJSON(ctx, http.MethodPost, "/api/auth/login",
		loginRequest{Username: username, Password: password}, &resp, transport.SkipAuth())
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates an account. Like Login it bypasses the credential
// machinery entirely.
func (c *Client) Register(ctx context.Context, username, password, displayName string) (*LoginResponse, error) {
	var resp LoginResponse
	err := c.t.DoJSON(ctx, http.MethodPost, "/api/auth/register",
		registerRequest{Username: username, Password: password, DisplayName: displayName}, &resp, transport.SkipAuth())
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListSpots fetches the authoritative spot collection.
func (c *Client) ListSpots(ctx context.Context) ([]*models.Spot, error) {
	var spots []*models.Spot
	if err := c.t.DoJSON(ctx, http.MethodGet, "/api/spots", nil, &spots); err != nil {
		return nil, err
	}
	return spots, nil
}

// CreateSpot pushes a locally created spot. The response carries the
// server-assigned id.
func (c *Client) CreateSpot(ctx context.Context, spot *models.Spot) (*models.Spot, error) {
	var created models.Spot
	if err := c.t.DoJSON(ctx, http.MethodPost, "/api/spots", spot, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateSpot pushes a local edit.
func (c *Client) UpdateSpot(ctx context.Context, spot *models.Spot) error {
	return c.t.DoJSON(ctx, http.MethodPut, fmt.Sprintf("/api/spots/%d", spot.ID), spot, nil)
}

// DeleteSpot pushes a local delete.
func (c *Client) DeleteSpot(ctx context.Context, id int64) error {
	return c.t.DoJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/spots/%d", id), nil, nil)
}

// ListVisits fetches the authoritative visit collection.
func (c *Client) ListVisits(ctx context.Context) ([]*models.Visit, error) {
	var visits []*models.Visit
	if err := c.t.DoJSON(ctx, http.MethodGet, "/api/visits", nil, &visits); err != nil {
		return nil, err
	}
	return visits, nil
}

// CreateVisit pushes a locally recorded visit.
func (c *Client) CreateVisit(ctx context.Context, visit *models.Visit) (*models.Visit, error) {
	var created models.Visit
	if err := c.t.DoJSON(ctx, http.MethodPost, "/api/visits", visit, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateVisit pushes a local edit.
func (c *Client) UpdateVisit(ctx context.Context, visit *models.Visit) error {
	return c.t.DoJSON(ctx, http.MethodPut, fmt.Sprintf("/api/visits/%d", visit.ID), visit, nil)
}

// DeleteVisit pushes a local delete.
func (c *Client) DeleteVisit(ctx context.Context, id int64) error {
	return c.t.DoJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/visits/%d", id), nil, nil)
}

// GetProfile fetches the authoritative profile.
func (c *Client) GetProfile(ctx context.Context) (*models.User, error) {
	var user models.User
	if err := c.t.DoJSON(ctx, http.MethodGet, "/api/profile", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile pushes a local profile edit.
func (c *Client) UpdateProfile(ctx context.Context, user *models.User) error {
	return c.t.DoJSON(ctx, http.MethodPut, "/api/profile", user, nil)
}

// UploadResponse is the result of a photo upload.
type UploadResponse struct {
	PhotoURL string `json:"photoUrl"`
}

// UploadPhoto sends a processed image for a spot as multipart form
// data and returns the stored photo reference.
func (c *Client) UploadPhoto(ctx context.Context, spotID int64, filename string, data []byte, isMain bool) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("photo", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write photo data: %w", err)
	}
	main := "false"
	if isMain {
		main = "true"
	}
	if err := w.WriteField("isMain", main); err != nil {
		return "", fmt.Errorf("failed to write form field: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	var resp UploadResponse
	err = c.t.DoRaw(ctx, http.MethodPost, fmt.Sprintf("/api/spots/%d/photos", spotID),
		w.FormDataContentType(), buf.Bytes(), &resp)
	if err != nil {
		return "", err
	}
	return resp.PhotoURL, nil
}
