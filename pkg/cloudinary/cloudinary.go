package cloudinary

import (
	"context"
	"fmt"
	"io"

	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/cloudinary/cloudinary-go/v2/config"
)

// Client uploads book cover images with delivery optimizations applied.
type Client interface {
	UploadCover(ctx context.Context, file io.Reader, publicID string) (url string, err error)
}

const (
	coverFolder = "daringbooks/covers"
	coverEager  = "q_auto,f_auto,w_600,c_fill"
	// CoverWidth is the rendered width used for optimized URLs.
	CoverWidth = 600
)

var eagerAsyncFalse = false

type clientImpl struct {
	cloudName string
	uploader  *uploader.API
}

// BuildOptimizedCoverURL returns a Cloudinary delivery URL for an existing
// cover public ID.
func BuildOptimizedCoverURL(cloudName, publicID string) string {
	return fmt.Sprintf("https://res.cloudinary.com/%s/image/upload/q_auto,f_auto,w_%d,c_fill/%s",
		cloudName, CoverWidth, publicID)
}

func (c *clientImpl) UploadCover(ctx context.Context, file io.Reader, publicID string) (string, error) {
	result, err := c.uploader.Upload(ctx, file, uploader.UploadParams{
		Folder:     coverFolder,
		PublicID:   publicID,
		Eager:      coverEager,
		EagerAsync: &eagerAsyncFalse,
	})
	if err != nil {
		return "", err
	}
	if len(result.Eager) > 0 && result.Eager[0].SecureURL != "" {
		return result.Eager[0].SecureURL, nil
	}
	if result.SecureURL != "" {
		return result.SecureURL, nil
	}
	return BuildOptimizedCoverURL(c.cloudName, result.PublicID), nil
}

// NewClientFromParams builds a Client from Cloudinary credentials.
func NewClientFromParams(cloudName, apiKey, apiSecret string) (Client, error) {
	cfg, err := config.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, err
	}
	up, err := uploader.NewWithConfiguration(cfg)
	if err != nil {
		return nil, err
	}
	return &clientImpl{cloudName: cloudName, uploader: up}, nil
}
