package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"

	"github.com/yourusername/debridget/internal/domain"
	"go.uber.org/zap"
)

const (
	RealDebridProviderName = "realdebrid"

	rdStatusWaitingFiles = "waiting_files_selection"
	rdStatusDownloaded   = "downloaded"

	rdErrorCodeUnknownResource = 7
)

var realDebridStatusMap = map[string]domain.JobStatus{
	"magnet_conversion":  domain.StatusResolving,
	rdStatusWaitingFiles: domain.StatusResolving,
	"queued":             domain.StatusQueued,
	"downloading":        domain.StatusDownloading,
	"compressing":        domain.StatusDownloading,
	"uploading":          domain.StatusDownloading,
	rdStatusDownloaded:   domain.StatusCompleted,
	"magnet_error":       domain.StatusFailed,
	"error":              domain.StatusFailed,
	"virus":              domain.StatusFailed,
	"dead":               domain.StatusFailed,
}

// MapRealDebridStatus normalizes a RealDebrid torrent status; unknown
// statuses are QUEUED
func MapRealDebridStatus(status string) domain.JobStatus {
	if s, ok := realDebridStatusMap[status]; ok {
		return s
	}
	return domain.StatusQueued
}

type rdAddMagnet struct {
	ID  string `json:"id" validate:"required"`
	URI string `json:"uri"`
}

type rdTorrentInfo struct {
	ID               string   `json:"id" validate:"required"`
	Filename         string   `json:"filename"`
	OriginalFilename string   `json:"original_filename"`
	Hash             string   `json:"hash"`
	Bytes            int64    `json:"bytes" validate:"gte=0"`
	Progress         float64  `json:"progress" validate:"gte=0"`
	Status           string   `json:"status" validate:"required"`
	Speed            int64    `json:"speed"`
	Seeders          int      `json:"seeders"`
	Files            []rdFile `json:"files" validate:"dive"`
	Links            []string `json:"links"`
}

type rdFile struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Bytes    int64  `json:"bytes" validate:"gte=0"`
	Selected int    `json:"selected"`
}

type rdUnrestricted struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
	Download string `json:"download" validate:"required"`
}

type rdUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Type     string `json:"type"`
	Premium  int64  `json:"premium"`
}

// RealDebridProvider adapts the RealDebrid torrent API. Only magnets are accepted.
type RealDebridProvider struct {
	client          *APIClient
	autoSelectFiles bool
	logger          *zap.Logger
}

// NewRealDebridProvider creates a RealDebrid provider
func NewRealDebridProvider(cfg domain.RealDebridConfig, defaults ClientDefaults, logger *zap.Logger) (*RealDebridProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := NewAPIClient(APIClientConfig{
		Provider:          RealDebridProviderName,
		BaseURL:           cfg.BaseURL,
		APIToken:          cfg.APIToken,
		Timeout:           cfg.Timeout,
		ProxyURL:          defaults.ProxyURL,
		RequestsPerSecond: cfg.RequestsPerSecond,
		BurstSize:         cfg.BurstSize,
		Retry:             defaults.Retry,
		ErrorParser:       parseRealDebridError,
	}, logger)
	if err != nil {
		return nil, err
	}
	return &RealDebridProvider{
		client:          client,
		autoSelectFiles: cfg.AutoSelectFiles,
		logger:          logger,
	}, nil
}

// Name returns the provider name
func (p *RealDebridProvider) Name() string {
	return RealDebridProviderName
}

// StartJob adds a magnet
func (p *RealDebridProvider) StartJob(ctx context.Context, payload domain.StartPayload) (*domain.StartResult, error) {
	if payload.Magnet == "" {
		return nil, domain.NewInvalidPayloadError(RealDebridProviderName, "a magnet link is required")
	}

	resp, err := p.client.do(ctx, apiRequest{
		Method: http.MethodPost,
		Path:   "/torrents/addMagnet",
		Form:   url.Values{"magnet": {payload.Magnet}},
	})
	if err != nil {
		return nil, err
	}

	var out rdAddMagnet
	if err := p.client.decode(resp, &out); err != nil {
		return nil, err
	}

	return &domain.StartResult{JobID: out.ID, Status: domain.StatusQueued}, nil
}

// GetStatus reports the normalized torrent state. A torrent waiting for file
// selection gets all of its files selected when auto selection is enabled.
func (p *RealDebridProvider) GetStatus(ctx context.Context, jobID string) (*domain.StatusResult, error) {
	info, err := p.fetchInfo(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if info.Status == rdStatusWaitingFiles && p.autoSelectFiles {
		if err := p.selectAllFiles(ctx, jobID); err != nil {
			p.logger.Warn("Failed to select files",
				zap.String("job_id", jobID),
				zap.Error(err))
		}
	}

	status := MapRealDebridStatus(info.Status)
	files := make([]domain.JobFile, 0, len(info.Files))
	for _, f := range info.Files {
		selected := f.Selected == 1
		files = append(files, domain.JobFile{
			ID:       strconv.Itoa(f.ID),
			Name:     path.Base(f.Path),
			Size:     f.Bytes,
			Selected: &selected,
		})
	}

	return &domain.StatusResult{
		ID:       info.ID,
		Status:   status,
		Progress: domain.NormalizeProgress(info.Progress, false, false, status),
		Files:    files,
		Metadata: map[string]interface{}{
			"name":         info.Filename,
			"hash":         info.Hash,
			"size":         info.Bytes,
			"vendorStatus": info.Status,
			"speed":        info.Speed,
			"seeders":      info.Seeders,
		},
	}, nil
}

// Cancel deletes the torrent unless it already reached a final state
func (p *RealDebridProvider) Cancel(ctx context.Context, jobID string) (*domain.CancelResult, error) {
	info, err := p.fetchInfo(ctx, jobID)
	if err != nil {
		if domain.IsCode(err, domain.ErrCodeNotFound) {
			return &domain.CancelResult{Success: false, Message: fmt.Sprintf("job %s not found", jobID)}, nil
		}
		return nil, err
	}

	if status := MapRealDebridStatus(info.Status); status.IsTerminal() {
		return &domain.CancelResult{Success: false, Message: fmt.Sprintf("Job is already %s", status)}, nil
	}

	_, err = p.client.do(ctx, apiRequest{
		Method: http.MethodDelete,
		Path:   "/torrents/delete/" + url.PathEscape(jobID),
	})
	if err != nil {
		if domain.IsCode(err, domain.ErrCodeNotFound) {
			return &domain.CancelResult{Success: false, Message: fmt.Sprintf("job %s not found", jobID)}, nil
		}
		return nil, err
	}

	return &domain.CancelResult{Success: true, Message: "Torrent deleted"}, nil
}

// GetFileLinks unrestricts the hoster links of a downloaded torrent. Links
// pair with the selected files in order; a failed unrestrict leaves that
// file without URL.
func (p *RealDebridProvider) GetFileLinks(ctx context.Context, jobID string) (*domain.FileLinksResult, error) {
	info, err := p.fetchInfo(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if info.Status != rdStatusDownloaded {
		return nil, domain.NewJobNotReadyError(RealDebridProviderName, jobID, info.Status)
	}

	selected := make([]rdFile, 0, len(info.Files))
	for _, f := range info.Files {
		if f.Selected == 1 {
			selected = append(selected, f)
		}
	}

	count := len(selected)
	if len(info.Links) > count {
		count = len(info.Links)
	}

	files := make([]domain.JobFile, 0, count)
	for i := 0; i < count; i++ {
		var file domain.JobFile
		if i < len(selected) {
			sel := true
			file = domain.JobFile{
				ID:       strconv.Itoa(selected[i].ID),
				Name:     path.Base(selected[i].Path),
				Size:     selected[i].Bytes,
				Selected: &sel,
			}
		} else {
			file = domain.JobFile{ID: "link-" + strconv.Itoa(i)}
		}

		if i < len(info.Links) {
			unrestricted, err := p.unrestrict(ctx, info.Links[i])
			if err != nil {
				p.logger.Warn("Failed to unrestrict link",
					zap.String("job_id", jobID),
					zap.String("file_id", file.ID),
					zap.Error(err))
			} else {
				file.URL = unrestricted.Download
				if file.Name == "" {
					file.Name = unrestricted.Filename
					file.Size = unrestricted.Filesize
				}
			}
		}
		files = append(files, file)
	}

	return &domain.FileLinksResult{JobID: jobID, Files: files}, nil
}

// TestConnection checks the token against the user endpoint
func (p *RealDebridProvider) TestConnection(ctx context.Context) (*domain.ConnectionResult, error) {
	resp, err := p.client.do(ctx, apiRequest{Method: http.MethodGet, Path: "/user"})
	if err != nil {
		if isAuthFailure(err) {
			return &domain.ConnectionResult{Success: false, Message: errorMessage(err)}, nil
		}
		return nil, err
	}

	var out rdUser
	if err := p.client.decode(resp, &out); err != nil {
		return nil, err
	}

	return &domain.ConnectionResult{
		Success: true,
		Message: "Connected to Real-Debrid",
		User: &domain.ProviderUser{
			ID:       strconv.FormatInt(out.ID, 10),
			Username: out.Username,
			Email:    out.Email,
			Plan:     out.Type,
			Premium:  out.Type == "premium" || out.Premium > 0,
		},
	}, nil
}

func (p *RealDebridProvider) fetchInfo(ctx context.Context, jobID string) (*rdTorrentInfo, error) {
	resp, err := p.client.do(ctx, apiRequest{
		Method: http.MethodGet,
		Path:   "/torrents/info/" + url.PathEscape(jobID),
	})
	if err != nil {
		return nil, err
	}

	var info rdTorrentInfo
	if err := p.client.decode(resp, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (p *RealDebridProvider) selectAllFiles(ctx context.Context, jobID string) error {
	_, err := p.client.do(ctx, apiRequest{
		Method: http.MethodPost,
		Path:   "/torrents/selectFiles/" + url.PathEscape(jobID),
		Form:   url.Values{"files": {"all"}},
	})
	return err
}

func (p *RealDebridProvider) unrestrict(ctx context.Context, link string) (*rdUnrestricted, error) {
	resp, err := p.client.do(ctx, apiRequest{
		Method: http.MethodPost,
		Path:   "/unrestrict/link",
		Form:   url.Values{"link": {link}},
	})
	if err != nil {
		return nil, err
	}

	var out rdUnrestricted
	if err := p.client.decode(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func parseRealDebridError(status int, body []byte) (string, domain.ErrorCode) {
	var out struct {
		Error     string `json:"error"`
		ErrorCode int    `json:"error_code"`
	}
	code := domain.ErrCodeAPI
	if status == http.StatusNotFound {
		code = domain.ErrCodeNotFound
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", code
	}
	if out.ErrorCode == rdErrorCodeUnknownResource {
		code = domain.ErrCodeNotFound
	}
	if out.Error == "" {
		return "", code
	}
	return fmt.Sprintf("%s (code %d)", out.Error, out.ErrorCode), code
}
