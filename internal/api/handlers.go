package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/openjurist/chunkloader/internal/chunker"
	"github.com/openjurist/chunkloader/internal/config"
	"github.com/openjurist/chunkloader/internal/importer"
	"github.com/openjurist/chunkloader/internal/ledger"
)

type createChunksRequest struct {
	Table         string `json:"table_name"`
	Date          string `json:"dataset_date"`
	SourceFile    string `json:"source_file"`
	ChunkSize     int    `json:"chunk_size,omitempty"`
	RechunkPolicy string `json:"rechunk_policy,omitempty"`
}

type createChunksResponse struct {
	Table         string   `json:"table_name"`
	Date          string   `json:"dataset_date"`
	ChunksCreated int      `json:"chunks_created"`
	RowsTotal     int64    `json:"rows_total"`
	Files         []string `json:"files"`
}

func (s *Server) handleCreateChunks(w http.ResponseWriter, r *http.Request) {
	var req createChunksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Table == "" || req.Date == "" || req.SourceFile == "" {
		s.writeError(w, http.StatusBadRequest, "table_name, dataset_date and source_file are required")
		return
	}

	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.cfg.Import.ChunkSize
	}
	policy := s.cfg.Import.RechunkPolicy
	if req.RechunkPolicy != "" {
		policy = config.RechunkPolicy(req.RechunkPolicy)
		if !policy.Valid() {
			s.writeError(w, http.StatusBadRequest, "rechunk_policy must be refuse, overwrite or append")
			return
		}
	}

	src, err := s.opener.Open(r.Context(), req.SourceFile)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "open source: "+err.Error())
		return
	}
	defer src.Close()

	res, err := s.splitter.Split(r.Context(), src, chunker.Options{
		Table:     req.Table,
		Date:      req.Date,
		ChunkSize: chunkSize,
		Policy:    policy,
	})
	if err != nil {
		s.writeCoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, createChunksResponse{
		Table:         req.Table,
		Date:          req.Date,
		ChunksCreated: res.ChunksCreated,
		RowsTotal:     res.RowsTotal,
		Files:         res.Files,
	})
}

func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request) {
	table, date, ok := s.requireDataset(w, r)
	if !ok {
		return
	}

	records, err := s.store.List(r.Context(), table, date)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"table_name":   table,
		"dataset_date": date,
		"total":        len(records),
		"chunks":       records,
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	table, date, ok := s.requireDataset(w, r)
	if !ok {
		return
	}

	var expectedTotal int64
	if v := r.URL.Query().Get("expected_total"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "expected_total must be a non-negative integer")
			return
		}
		expectedTotal = parsed
	}
	detailed := r.URL.Query().Get("detailed") == "true"

	summary, err := importer.Progress(r.Context(), s.store, table, date, expectedTotal, detailed)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

type importRequest struct {
	Table      string `json:"table_name"`
	Date       string `json:"dataset_date"`
	Method     string `json:"method,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
	Resume     *bool  `json:"resume,omitempty"`
	Chunks     []int  `json:"chunks,omitempty"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Table == "" || req.Date == "" {
		s.writeError(w, http.StatusBadRequest, "table_name and dataset_date are required")
		return
	}

	opts := importer.RunOptions{
		Table:      req.Table,
		Date:       req.Date,
		Method:     req.Method,
		MaxRetries: req.MaxRetries,
		Chunks:     req.Chunks,
	}
	if req.Resume != nil {
		opts.Resume = *req.Resume
		opts.NoResume = !*req.Resume
	}

	summary, err := s.coord.Run(r.Context(), opts)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

type resetRequest struct {
	Table       string `json:"table_name"`
	Date        string `json:"dataset_date"`
	DeleteFiles bool   `json:"delete_files,omitempty"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Table == "" || req.Date == "" {
		s.writeError(w, http.StatusBadRequest, "table_name and dataset_date are required")
		return
	}

	count, err := s.store.Reset(r.Context(), req.Table, req.Date)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	if req.DeleteFiles {
		if err := chunker.RemoveDatasetDir(s.cfg.ChunkDir, req.Table, req.Date); err != nil {
			s.writeCoreError(w, err)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"table_name":    req.Table,
		"dataset_date":  req.Date,
		"records_reset": count,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	table, date, ok := s.requireDataset(w, r)
	if !ok {
		return
	}

	count, err := s.store.Delete(r.Context(), table, date)
	if err != nil {
		s.writeCoreError(w, err)
		return
	}
	if r.URL.Query().Get("delete_files") == "true" {
		if err := chunker.RemoveDatasetDir(s.cfg.ChunkDir, table, date); err != nil {
			s.writeCoreError(w, err)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"table_name":      table,
		"dataset_date":    date,
		"records_deleted": count,
	})
}

func (s *Server) requireDataset(w http.ResponseWriter, r *http.Request) (table, date string, ok bool) {
	table = r.URL.Query().Get("table")
	date = r.URL.Query().Get("date")
	if table == "" || date == "" {
		s.writeError(w, http.StatusBadRequest, "table and date query parameters are required")
		return "", "", false
	}
	return table, date, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeCoreError maps core errors onto HTTP statuses.
func (s *Server) writeCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, importer.ErrNoChunks), errors.Is(err, ledger.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chunker.ErrChunksExist), errors.Is(err, ledger.ErrDuplicateChunk):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, chunker.ErrInvalidChunkSize),
		errors.Is(err, chunker.ErrEmptySource),
		errors.Is(err, importer.ErrUnknownStrategy):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
