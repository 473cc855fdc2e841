package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// DefaultContainer is used when no container name is configured.
const DefaultContainer = "civicpipe"

// Opts holds configuration options for Azure Blob storage.
type Opts struct {
	ConnectionString string
	Container        string
}

// Option defines a configuration option for Azure Blob storage.
type Option func(*Opts)

// WithConnectionString sets the storage account connection string.
func WithConnectionString(cs string) Option {
	return func(o *Opts) { o.ConnectionString = cs }
}

// WithContainer sets the blob container name.
func WithContainer(name string) Option {
	return func(o *Opts) { o.Container = name }
}

// Azure stores files as blobs in a single container.
type Azure struct {
	client    *azblob.Client
	container string
}

// NewAzure creates an Azure Blob storage backend. Call EnsureContainer before first use.
func NewAzure(opts ...Option) (*Azure, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("azure storage connection string not set")
	}
	if cfg.Container == "" {
		cfg.Container = DefaultContainer
	}

	client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	slog.Debug("Azure storage client created", "container", cfg.Container)
	return &Azure{client: client, container: cfg.Container}, nil
}

// EnsureContainer creates the container if it does not exist yet.
func (a *Azure) EnsureContainer(ctx context.Context) error {
	_, err := a.client.CreateContainer(ctx, a.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		slog.Error("Azure storage container initialization failed", "error", err, "container", a.container)
		return fmt.Errorf("create container %s: %w", a.container, err)
	}
	slog.Info("Azure storage container ready", "container", a.container)
	return nil
}

// Write uploads data as a blob at p.
func (a *Azure) Write(ctx context.Context, p string, data []byte, contentType string) error {
	if err := ValidatePath(p); err != nil {
		return err
	}

	opts := &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: &contentType,
		},
	}
	if _, err := a.client.UploadStream(ctx, a.container, p, bytes.NewReader(data), opts); err != nil {
		slog.Error("Azure storage upload failed", "error", err, "path", p)
		return fmt.Errorf("upload blob %s: %w", p, err)
	}

	slog.Debug("Azure storage upload succeeded", "path", p, "bytes", len(data))
	return nil
}

// Read downloads the blob at p.
func (a *Azure) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ValidatePath(p); err != nil {
		return nil, err
	}

	resp, err := a.client.DownloadStream(ctx, a.container, p, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("download blob %s: %w", p, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", p, err)
	}
	return data, nil
}
