// Package remote moves stitch inputs and outputs between the local session directory and
// Azure Blob Storage. Remote locations are written az://container/path.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"scrollstitch/internal/config"
	"scrollstitch/internal/fsutil"
)

const Scheme = "az://"

// Store downloads remote inputs and uploads rendered results.
type Store interface {
	Download(ctx context.Context, uri, dir string) ([]string, error)
	Upload(ctx context.Context, localPath, uri string) error
}

// IsRemote reports whether p names a blob location.
func IsRemote(p string) bool {
	return strings.HasPrefix(p, Scheme)
}

// ParseURI splits az://container/blob/path into container and blob path.
func ParseURI(uri string) (container, blob string, err error) {
	if !IsRemote(uri) {
		return "", "", fmt.Errorf("not an %s uri: %q", Scheme, uri)
	}
	container, blob, _ = strings.Cut(strings.TrimPrefix(uri, Scheme), "/")
	if container == "" {
		return "", "", fmt.Errorf("missing container in %q", uri)
	}
	return container, blob, nil
}

// AzureBlob implements Store with a shared-key azblob client.
type AzureBlob struct {
	client *azblob.Client
	logger *slog.Logger
}

// NewAzureBlob builds a client from cfg. It returns nil and no error when no account is configured.
func NewAzureBlob(cfg config.AzureConfig, logger *slog.Logger) (*AzureBlob, error) {
	if cfg.AccountName == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, err
	}
	serviceURL := cfg.ServiceURL
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.AccountName)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, err
	}
	return &AzureBlob{client: client, logger: logger}, nil
}

// Download fetches uri into dir. A uri naming a single blob downloads that blob; otherwise
// every image or video blob under the prefix is fetched. Local paths come back in natural order.
func (a *AzureBlob) Download(ctx context.Context, uri, dir string) ([]string, error) {
	container, blob, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	names, err := a.list(ctx, container, blob)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no blobs under %s", uri)
	}

	var local []string
	for _, name := range names {
		dst := filepath.Join(dir, path.Base(name))
		if err := a.download(ctx, container, name, dst); err != nil {
			return nil, err
		}
		local = append(local, dst)
	}
	fsutil.SortNatural(local)
	a.logger.Info("Downloaded remote inputs", "uri", uri, "files", len(local), "dir", dir)
	return local, nil
}

func (a *AzureBlob) list(ctx context.Context, container, blob string) ([]string, error) {
	prefix := blob
	pager := a.client.NewListBlobsFlatPager(container, &azblob.ListBlobsFlatOptions{Prefix: &prefix})

	var matched []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", container, blob, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			name := *item.Name
			if name == blob {
				return []string{name}, nil
			}
			rest := strings.TrimPrefix(name, strings.TrimSuffix(blob, "/")+"/")
			if blob != "" && rest == name {
				continue
			}
			if fsutil.IsImageFile(name) || fsutil.IsVideoFile(name) {
				matched = append(matched, name)
			}
		}
	}
	return matched, nil
}

func (a *AzureBlob) download(ctx context.Context, container, blob, dst string) error {
	resp, err := a.client.DownloadStream(ctx, container, blob, nil)
	if err != nil {
		return fmt.Errorf("download %s/%s: %w", container, blob, err)
	}
	body := resp.Body
	defer body.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return f.Close()
}

// Upload copies localPath to uri. A uri ending in "/" keeps the local file name.
func (a *AzureBlob) Upload(ctx context.Context, localPath, uri string) error {
	container, blob, err := ParseURI(uri)
	if err != nil {
		return err
	}
	if blob == "" || strings.HasSuffix(blob, "/") {
		blob += filepath.Base(localPath)
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := a.client.UploadFile(ctx, container, blob, f, nil); err != nil {
		return fmt.Errorf("upload %s: %w", uri, err)
	}
	a.logger.Info("Uploaded result", "uri", Scheme+container+"/"+blob)
	return nil
}

// ErrNotConfigured is returned when a remote path is used without Azure credentials.
var ErrNotConfigured = errors.New("remote storage is not configured")
