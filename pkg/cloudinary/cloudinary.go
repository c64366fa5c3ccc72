// Package cloudinary stores design previews on Cloudinary.
package cloudinary

import (
	"bytes"
	"context"
	"fmt"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/rs/zerolog"
)

// Config contains credentials required to talk to Cloudinary.
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Enabled reports whether every credential is present.
func (c Config) Enabled() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// PreviewStore uploads PNG previews of design answers.
type PreviewStore struct {
	client *cloudinary.Cloudinary
	folder string
	logger zerolog.Logger
}

// New constructs a preview store.
func New(cfg Config, logger zerolog.Logger) (*PreviewStore, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("cloudinary credentials must be provided")
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	folder := cfg.Folder
	if folder == "" {
		folder = "gema/designs"
	}

	return &PreviewStore{
		client: cld,
		folder: folder,
		logger: logger.With().Str("component", "cloudinary").Logger(),
	}, nil
}

// UploadPreview stores the image under a stable public id so a resubmitted design
// replaces its previous preview. It returns the secure URL.
func (s *PreviewStore) UploadPreview(ctx context.Context, key string, data []byte) (string, error) {
	params := uploader.UploadParams{
		Folder:       s.folder,
		PublicID:     key,
		ResourceType: "image",
		Format:       "png",
		Overwrite:    api.Bool(true),
		Invalidate:   api.Bool(true),
	}

	result, err := s.client.Upload.Upload(ctx, bytes.NewReader(data), params)
	if err != nil {
		return "", fmt.Errorf("failed to upload preview: %w", err)
	}

	s.logger.Info().Str("public_id", result.PublicID).Int("bytes", len(data)).Msg("design preview uploaded")

	return result.SecureURL, nil
}

// PreviewKey names the preview of one design answer.
func PreviewKey(submissionID, questionID uint) string {
	return fmt.Sprintf("submission-%d-question-%d", submissionID, questionID)
}
