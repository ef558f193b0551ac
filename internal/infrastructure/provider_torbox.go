package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/yourusername/debridget/internal/domain"
	"github.com/yourusername/debridget/pkg/retry"
	"go.uber.org/zap"
)

const (
	TorBoxProviderName = "torbox"

	torboxKindTorrent = "torrent"
	torboxKindWebDL   = "webdl"
)

// ClientDefaults carries the settings shared by every vendor client
type ClientDefaults struct {
	ProxyURL string
	Retry    retry.Options
}

// RetryOptionsFromConfig converts the configured retry policy
func RetryOptionsFromConfig(cfg domain.RetryConfig) retry.Options {
	return retry.Options{
		MaxRetries:        cfg.MaxRetries,
		InitialDelay:      cfg.InitialDelay,
		MaxDelay:          cfg.MaxDelay,
		BackoffMultiplier: cfg.BackoffMultiplier,
	}
}

var torboxStatusMap = map[string]domain.JobStatus{
	"queued":               domain.StatusQueued,
	"metaDL":               domain.StatusResolving,
	"checking":             domain.StatusResolving,
	"checkingResumeData":   domain.StatusResolving,
	"paused":               domain.StatusResolving,
	"downloading":          domain.StatusDownloading,
	"stalled":              domain.StatusDownloading,
	"stalled (no seeds)":   domain.StatusDownloading,
	"stalledDL":            domain.StatusDownloading,
	"completed":            domain.StatusCompleted,
	"cached":               domain.StatusCompleted,
	"uploading":            domain.StatusCompleted,
	"uploading (no peers)": domain.StatusCompleted,
	"seeding":              domain.StatusCompleted,
	"error":                domain.StatusFailed,
	"failed":               domain.StatusFailed,
	"missingFiles":         domain.StatusFailed,
}

// MapTorBoxStatus normalizes a TorBox download_state; unknown states are QUEUED
func MapTorBoxStatus(state string) domain.JobStatus {
	if s, ok := torboxStatusMap[state]; ok {
		return s
	}
	if strings.HasPrefix(state, "stalled") {
		return domain.StatusDownloading
	}
	return domain.StatusQueued
}

type torboxResponse[T any] struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Detail  string `json:"detail"`
	Data    T      `json:"data"`
}

type torboxCreated struct {
	TorrentID     int64  `json:"torrent_id"`
	WebDownloadID int64  `json:"webdownload_id"`
	Hash          string `json:"hash"`
}

type torboxItem struct {
	ID               int64        `json:"id" validate:"required"`
	Name             string       `json:"name"`
	Hash             string       `json:"hash"`
	Size             int64        `json:"size" validate:"gte=0"`
	DownloadState    string       `json:"download_state"`
	Progress         float64      `json:"progress" validate:"gte=0"`
	DownloadSpeed    int64        `json:"download_speed"`
	ETA              int64        `json:"eta"`
	DownloadFinished bool         `json:"download_finished"`
	Files            []torboxFile `json:"files" validate:"dive"`
}

type torboxFile struct {
	ID        int64  `json:"id" validate:"gte=0"`
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
	Size      int64  `json:"size" validate:"gte=0"`
}

type torboxUser struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Plan     int    `json:"plan"`
	Customer string `json:"customer"`
}

// TorBoxProvider adapts the TorBox API, which accepts both magnets
// (torrents) and plain links (web downloads)
type TorBoxProvider struct {
	client *APIClient
	logger *zap.Logger
}

// NewTorBoxProvider creates a TorBox provider
func NewTorBoxProvider(cfg domain.VendorConfig, defaults ClientDefaults, logger *zap.Logger) (*TorBoxProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := NewAPIClient(APIClientConfig{
		Provider:          TorBoxProviderName,
		BaseURL:           cfg.BaseURL,
		APIToken:          cfg.APIToken,
		Timeout:           cfg.Timeout,
		ProxyURL:          defaults.ProxyURL,
		RequestsPerSecond: cfg.RequestsPerSecond,
		BurstSize:         cfg.BurstSize,
		Retry:             defaults.Retry,
		ErrorParser:       parseTorBoxError,
	}, logger)
	if err != nil {
		return nil, err
	}
	return &TorBoxProvider{client: client, logger: logger}, nil
}

// Name returns the provider name
func (p *TorBoxProvider) Name() string {
	return TorBoxProviderName
}

// StartJob creates a torrent for magnets or a web download for links
func (p *TorBoxProvider) StartJob(ctx context.Context, payload domain.StartPayload) (*domain.StartResult, error) {
	if !payload.HasSource() {
		return nil, domain.NewInvalidPayloadError(TorBoxProviderName, "url or magnet is required")
	}

	var req apiRequest
	kind := torboxKindTorrent
	if payload.Magnet != "" {
		req = apiRequest{
			Method:    http.MethodPost,
			Path:      "/torrents/createtorrent",
			Form:      url.Values{"magnet": {payload.Magnet}},
			Multipart: true,
		}
	} else {
		kind = torboxKindWebDL
		req = apiRequest{
			Method:    http.MethodPost,
			Path:      "/webdl/createwebdownload",
			Form:      url.Values{"link": {payload.URL}},
			Multipart: true,
		}
	}

	resp, err := p.client.do(ctx, req)
	if err != nil {
		return nil, err
	}

	var out torboxResponse[*torboxCreated]
	if err := p.client.decode(resp, &out); err != nil {
		return nil, err
	}
	if !out.Success || out.Data == nil {
		return nil, domain.NewProviderError(TorBoxProviderName, domain.ErrCodeAPI, torboxMessage(out.Detail, out.Error, "failed to create download"))
	}

	id := out.Data.TorrentID
	if kind == torboxKindWebDL {
		id = out.Data.WebDownloadID
	}
	if id == 0 {
		return nil, domain.NewProviderError(TorBoxProviderName, domain.ErrCodeAPI, "vendor returned no download id")
	}

	return &domain.StartResult{JobID: fmt.Sprintf("%s:%d", kind, id), Status: domain.StatusQueued}, nil
}

// GetStatus reports the normalized state of a torrent or web download
func (p *TorBoxProvider) GetStatus(ctx context.Context, jobID string) (*domain.StatusResult, error) {
	kind, id, err := parseTorBoxJobID(jobID)
	if err != nil {
		return nil, err
	}

	item, err := p.fetchItem(ctx, kind, id, jobID)
	if err != nil {
		return nil, err
	}

	status := MapTorBoxStatus(item.DownloadState)
	files := make([]domain.JobFile, 0, len(item.Files))
	for _, f := range item.Files {
		files = append(files, domain.JobFile{
			ID:   strconv.FormatInt(f.ID, 10),
			Name: torboxFileName(f),
			Size: f.Size,
		})
	}

	return &domain.StatusResult{
		ID:       jobID,
		Status:   status,
		Progress: domain.NormalizeProgress(item.Progress, true, item.DownloadFinished, status),
		Files:    files,
		Metadata: map[string]interface{}{
			"name":          item.Name,
			"hash":          item.Hash,
			"size":          item.Size,
			"vendorStatus":  item.DownloadState,
			"downloadSpeed": item.DownloadSpeed,
			"eta":           item.ETA,
		},
	}, nil
}

// Cancel deletes the remote download unless it already finished
func (p *TorBoxProvider) Cancel(ctx context.Context, jobID string) (*domain.CancelResult, error) {
	kind, id, err := parseTorBoxJobID(jobID)
	if err != nil {
		return &domain.CancelResult{Success: false, Message: err.Error()}, nil
	}

	item, err := p.fetchItem(ctx, kind, id, jobID)
	if err != nil {
		if domain.IsCode(err, domain.ErrCodeNotFound) {
			return &domain.CancelResult{Success: false, Message: fmt.Sprintf("job %s not found", jobID)}, nil
		}
		return nil, err
	}

	if status := MapTorBoxStatus(item.DownloadState); status.IsTerminal() {
		return &domain.CancelResult{Success: false, Message: fmt.Sprintf("Job is already %s", status)}, nil
	}

	body := map[string]interface{}{"operation": "delete"}
	path := "/torrents/controltorrent"
	if kind == torboxKindWebDL {
		path = "/webdl/controlwebdownload"
		body["webdl_id"] = id
	} else {
		body["torrent_id"] = id
	}

	resp, err := p.client.do(ctx, apiRequest{Method: http.MethodPost, Path: path, JSON: body})
	if err != nil {
		if domain.IsCode(err, domain.ErrCodeNotFound) {
			return &domain.CancelResult{Success: false, Message: fmt.Sprintf("job %s not found", jobID)}, nil
		}
		return nil, err
	}

	var out torboxResponse[json.RawMessage]
	if err := p.client.decode(resp, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return &domain.CancelResult{Success: false, Message: torboxMessage(out.Detail, out.Error, "cancel rejected")}, nil
	}

	return &domain.CancelResult{Success: true, Message: torboxMessage(out.Detail, "", "Download deleted")}, nil
}

// GetFileLinks requests a download link for every file of a finished job.
// A file whose link request fails is returned without URL.
func (p *TorBoxProvider) GetFileLinks(ctx context.Context, jobID string) (*domain.FileLinksResult, error) {
	kind, id, err := parseTorBoxJobID(jobID)
	if err != nil {
		return nil, err
	}

	item, err := p.fetchItem(ctx, kind, id, jobID)
	if err != nil {
		return nil, err
	}

	status := MapTorBoxStatus(item.DownloadState)
	if status != domain.StatusCompleted && !item.DownloadFinished {
		return nil, domain.NewJobNotReadyError(TorBoxProviderName, jobID, item.DownloadState)
	}

	files := make([]domain.JobFile, 0, len(item.Files))
	for _, f := range item.Files {
		file := domain.JobFile{
			ID:   strconv.FormatInt(f.ID, 10),
			Name: torboxFileName(f),
			Size: f.Size,
		}

		link, err := p.requestLink(ctx, kind, id, f.ID)
		if err != nil {
			p.logger.Warn("Failed to request file link",
				zap.String("job_id", jobID),
				zap.String("file_id", file.ID),
				zap.Error(err))
		} else {
			file.URL = link
		}
		files = append(files, file)
	}

	return &domain.FileLinksResult{JobID: jobID, Files: files}, nil
}

// TestConnection checks the token against the account endpoint
func (p *TorBoxProvider) TestConnection(ctx context.Context) (*domain.ConnectionResult, error) {
	resp, err := p.client.do(ctx, apiRequest{Method: http.MethodGet, Path: "/user/me"})
	if err != nil {
		if isAuthFailure(err) {
			return &domain.ConnectionResult{Success: false, Message: errorMessage(err)}, nil
		}
		return nil, err
	}

	var out torboxResponse[*torboxUser]
	if err := p.client.decode(resp, &out); err != nil {
		return nil, err
	}
	if !out.Success || out.Data == nil {
		return &domain.ConnectionResult{Success: false, Message: torboxMessage(out.Detail, out.Error, "authentication failed")}, nil
	}

	return &domain.ConnectionResult{
		Success: true,
		Message: "Connected to TorBox",
		User: &domain.ProviderUser{
			ID:      strconv.FormatInt(out.Data.ID, 10),
			Email:   out.Data.Email,
			Plan:    torboxPlanName(out.Data.Plan),
			Premium: out.Data.Plan > 0,
		},
	}, nil
}

func (p *TorBoxProvider) fetchItem(ctx context.Context, kind string, id int64, jobID string) (*torboxItem, error) {
	path := "/torrents/mylist"
	if kind == torboxKindWebDL {
		path = "/webdl/mylist"
	}

	resp, err := p.client.do(ctx, apiRequest{
		Method: http.MethodGet,
		Path:   path,
		Query: url.Values{
			"id":           {strconv.FormatInt(id, 10)},
			"bypass_cache": {"true"},
		},
	})
	if err != nil {
		return nil, err
	}

	var out torboxResponse[*torboxItem]
	if err := p.client.decode(resp, &out); err != nil {
		return nil, err
	}
	if !out.Success || out.Data == nil {
		return nil, domain.NewJobNotFoundError(TorBoxProviderName, jobID)
	}
	return out.Data, nil
}

func (p *TorBoxProvider) requestLink(ctx context.Context, kind string, id, fileID int64) (string, error) {
	path := "/torrents/requestdl"
	idParam := "torrent_id"
	if kind == torboxKindWebDL {
		path = "/webdl/requestdl"
		idParam = "web_id"
	}

	resp, err := p.client.do(ctx, apiRequest{
		Method: http.MethodGet,
		Path:   path,
		Query: url.Values{
			"token":   {p.client.Token()},
			idParam:   {strconv.FormatInt(id, 10)},
			"file_id": {strconv.FormatInt(fileID, 10)},
		},
	})
	if err != nil {
		return "", err
	}

	var out torboxResponse[string]
	if err := p.client.decode(resp, &out); err != nil {
		return "", err
	}
	if !out.Success || out.Data == "" {
		return "", domain.NewProviderError(TorBoxProviderName, domain.ErrCodeAPI, torboxMessage(out.Detail, out.Error, "no link returned"))
	}
	return out.Data, nil
}

func parseTorBoxJobID(jobID string) (string, int64, error) {
	kind, raw, ok := strings.Cut(jobID, ":")
	if !ok || (kind != torboxKindTorrent && kind != torboxKindWebDL) {
		return "", 0, domain.NewJobNotFoundError(TorBoxProviderName, jobID)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return "", 0, domain.NewJobNotFoundError(TorBoxProviderName, jobID)
	}
	return kind, id, nil
}

func parseTorBoxError(status int, body []byte) (string, domain.ErrorCode) {
	var out torboxResponse[json.RawMessage]
	code := domain.ErrCodeAPI
	if status == http.StatusNotFound {
		code = domain.ErrCodeNotFound
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", code
	}
	switch out.Error {
	case "ITEM_NOT_FOUND", "NOT_FOUND":
		code = domain.ErrCodeNotFound
	}
	return torboxMessage(out.Detail, out.Error, ""), code
}

func torboxMessage(detail, errName, fallback string) string {
	if detail != "" {
		return detail
	}
	if errName != "" {
		return errName
	}
	return fallback
}

func torboxFileName(f torboxFile) string {
	if f.ShortName != "" {
		return f.ShortName
	}
	if i := strings.LastIndex(f.Name, "/"); i >= 0 {
		return f.Name[i+1:]
	}
	return f.Name
}

func torboxPlanName(plan int) string {
	switch plan {
	case 0:
		return "free"
	case 1:
		return "essential"
	case 2:
		return "pro"
	case 3:
		return "standard"
	default:
		return strconv.Itoa(plan)
	}
}

// isAuthFailure reports whether err is a vendor rejection of the credentials
func isAuthFailure(err error) bool {
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.StatusCode == http.StatusUnauthorized || pe.StatusCode == http.StatusForbidden
}

func errorMessage(err error) string {
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return err.Error()
}
