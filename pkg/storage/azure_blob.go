package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"
)

// AzureBlobStore keeps each snapshot as a JSON blob named "<prefix><name>.json".
// It authenticates with the shared key of a standard connection string, which
// also works against a local Azurite instance over HTTP.
type AzureBlobStore struct {
	client        *azblob.Client
	containerName string
	prefix        string
	logger        *zap.Logger

	mu            sync.Mutex
	containerInit bool
}

// NewAzureBlobStore creates a store from a connection string.
func NewAzureBlobStore(connectionString, containerName, prefix string, logger *zap.Logger) (*AzureBlobStore, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if containerName == "" {
		return nil, fmt.Errorf("container name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	params := parseConnectionString(connectionString)
	accountName := params["AccountName"]
	accountKey := params["AccountKey"]
	serviceURL := params["BlobEndpoint"]
	if accountName == "" || accountKey == "" {
		return nil, fmt.Errorf("account name and key are required in the connection string")
	}
	if serviceURL == "" {
		suffix := params["EndpointSuffix"]
		if suffix == "" {
			suffix = "core.windows.net"
		}
		serviceURL = fmt.Sprintf("https://%s.blob.%s", accountName, suffix)
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	var clientOpts *azblob.ClientOptions
	if strings.HasPrefix(strings.ToLower(serviceURL), "http://") {
		clientOpts = &azblob.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				InsecureAllowCredentialWithHTTP: true,
			},
		}
	}

	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &AzureBlobStore{
		client:        client,
		containerName: containerName,
		prefix:        prefix,
		logger:        logger,
	}, nil
}

// BlobName returns the blob that holds the snapshot called name.
func (a *AzureBlobStore) BlobName(name string) string {
	return a.prefix + name + ".json"
}

// Save uploads data, creating the container on first use.
func (a *AzureBlobStore) Save(ctx context.Context, name string, data []byte) error {
	if err := a.ensureContainer(ctx); err != nil {
		return err
	}

	blobName := a.BlobName(name)
	blobClient := a.client.ServiceClient().NewContainerClient(a.containerName).NewBlockBlobClient(blobName)

	_, err := blobClient.UploadBuffer(ctx, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: to.Ptr("application/json"),
		},
	})
	if err != nil {
		a.logger.Error("failed to upload snapshot",
			zap.String("blob", blobName),
			zap.Int("size", len(data)),
			zap.Error(err))
		return fmt.Errorf("blob upload failed: %w", err)
	}

	a.logger.Debug("snapshot uploaded",
		zap.String("blob", blobName),
		zap.Int("size_bytes", len(data)))
	return nil
}

// Load downloads the snapshot called name, or returns ErrSnapshotNotFound.
func (a *AzureBlobStore) Load(ctx context.Context, name string) ([]byte, error) {
	blobClient := a.client.ServiceClient().NewContainerClient(a.containerName).NewBlobClient(a.BlobName(name))

	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("failed to download blob: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob data: %w", err)
	}
	return data, nil
}

func (a *AzureBlobStore) ensureContainer(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.containerInit {
		return nil
	}

	_, err := a.client.CreateContainer(ctx, a.containerName, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("failed to ensure container: %w", err)
	}

	a.containerInit = true
	return nil
}

func parseConnectionString(connectionString string) map[string]string {
	parts := strings.Split(connectionString, ";")
	params := make(map[string]string, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		key, value, ok := strings.Cut(part, "=")
		if !ok || key == "" {
			continue
		}
		params[key] = value
	}
	return params
}

var _ SnapshotStore = (*AzureBlobStore)(nil)
