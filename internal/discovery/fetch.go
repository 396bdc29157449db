package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/discoflow/discoflow/model"
)

// DefaultEndpoint is the well-known discovery endpoint template. The two
// placeholders are service name and version.
const DefaultEndpoint = "https://%s.googleapis.com/$discovery/rest?version=%s"

const maxDocumentBytes = 32 << 20 // 32MB

// Source maps a service and version to a locally supplied document file,
// bypassing the discovery endpoint.
type Source struct {
	Service string `yaml:"service"`
	Version string `yaml:"version"`
	File    string `yaml:"file"`
}

// Fetcher obtains interface documents, either from locally supplied files
// or from the service's well-known discovery endpoint.
type Fetcher struct {
	client   *http.Client
	endpoint string
	local    map[string]string // "service:version" → file path
}

// NewFetcher creates a Fetcher. An empty endpoint selects DefaultEndpoint.
func NewFetcher(endpoint string, timeout time.Duration, sources []Source) *Fetcher {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	local := make(map[string]string, len(sources))
	for _, src := range sources {
		local[src.Service+":"+src.Version] = src.File
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		local:    local,
	}
}

// Fetch returns the parsed document for the given service and version.
func (f *Fetcher) Fetch(ctx context.Context, service, version string) (*Document, error) {
	if path, ok := f.local[service+":"+version]; ok {
		return f.fetchFile(service, version, path)
	}
	return f.fetchRemote(ctx, service, version)
}

func (f *Fetcher) fetchFile(service, version, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &model.DocumentError{
			Service: service,
			Version: version,
			Message: fmt.Sprintf("reading %s: %v", path, err),
		}
	}
	return ParseAny(data, service, version)
}

func (f *Fetcher) fetchRemote(ctx context.Context, service, version string) (*Document, error) {
	url := fmt.Sprintf(f.endpoint, service, version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &model.DocumentError{Service: service, Version: version, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &model.DocumentError{
			Service: service,
			Version: version,
			Message: "fetching document: " + err.Error(),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, &model.DocumentError{
			Service: service,
			Version: version,
			Message: "reading document: " + err.Error(),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &model.RemoteError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}
	return Parse(body)
}
