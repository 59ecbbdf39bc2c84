package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/receipt-tracker/internal/report"
	"github.com/zombor/receipt-tracker/internal/spending"
)

const maxJSONBodySize = 1 << 20

// receiptResponse adds the loadable image URL to a receipt
type receiptResponse struct {
	*Receipt
	ImageURL string `json:"image_url,omitempty"`
}

func (s *Server) receiptResponse(r *Receipt) receiptResponse {
	return receiptResponse{Receipt: r, ImageURL: s.service.ResolveImageURL(r.ImageRef)}
}

func (s *Server) receiptResponses(receipts []*Receipt) []receiptResponse {
	out := make([]receiptResponse, 0, len(receipts))
	for _, r := range receipts {
		out = append(out, s.receiptResponse(r))
	}
	return out
}

func ownerOf(r *http.Request) string {
	owner, _ := OwnerFrom(r.Context())
	return owner
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps service errors to a status. Backend failures are
// logged and reported with a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	default:
		slog.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, ErrValidation) {
			return err
		}
		return fmt.Errorf("%w: invalid request body", ErrValidation)
	}
	return nil
}

func isMultipart(r *http.Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mediaType == "multipart/form-data"
}

// parseMultipart reads a multipart body. The "file" part is optional; nil is returned without it.
func parseMultipart(w http.ResponseWriter, r *http.Request) (*Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || err.Error() == "http: request body too large" {
			return nil, fmt.Errorf("%w: file is too large, maximum size is 50MB", ErrValidation)
		}
		return nil, fmt.Errorf("%w: error parsing form", ErrValidation)
	}

	f, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: error reading file", ErrValidation)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	contentType, err := uploadContentType(header.Header.Get("Content-Type"), header.Filename, data)
	if err != nil {
		return nil, err
	}
	return &Upload{Filename: header.Filename, ContentType: contentType, Data: data}, nil
}

// uploadContentType determines the type of an upload from its header, its
// extension or its content, and rejects anything that is not an image or PDF
func uploadContentType(declared, filename string, data []byte) (string, error) {
	contentType, _, _ := mime.ParseMediaType(declared)
	if contentType == "" || contentType == "application/octet-stream" {
		switch strings.ToLower(filepath.Ext(filename)) {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		case ".heif":
			contentType = "image/heif"
		default:
			contentType, _, _ = mime.ParseMediaType(http.DetectContentType(data))
		}
	}

	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if !strings.HasPrefix(contentType, "image/") && contentType != "application/pdf" {
		return "", fmt.Errorf("%w: unsupported file type %s", ErrValidation, contentType)
	}
	return contentType, nil
}

func formAmount(s string) (int64, error) {
	amount, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount must be a whole number of cents", ErrValidation)
	}
	return amount, nil
}

func formCategory(s string) (spending.Category, error) {
	c, err := spending.ParseCategory(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return c, nil
}

// inputFromForm reads receipt fields from a parsed multipart form
func inputFromForm(r *http.Request) (ReceiptInput, error) {
	input := ReceiptInput{
		Time:     r.FormValue("time"),
		Vendor:   r.FormValue("vendor"),
		Location: r.FormValue("location"),
		Notes:    r.FormValue("notes"),
		ImageRef: r.FormValue("image_ref"),
	}

	var err error
	if v := r.FormValue("date"); v != "" {
		if input.Date, err = ParseDate(v); err != nil {
			return input, err
		}
	}
	if v := r.FormValue("amount"); v != "" {
		if input.Amount, err = formAmount(v); err != nil {
			return input, err
		}
	}
	if v := r.FormValue("category"); v != "" {
		if input.Category, err = formCategory(v); err != nil {
			return input, err
		}
	}
	return input, nil
}

// patchFromForm reads the fields present in a parsed multipart form
func patchFromForm(r *http.Request) (ReceiptPatch, error) {
	var patch ReceiptPatch
	str := func(key string) *string {
		if !r.Form.Has(key) {
			return nil
		}
		v := r.Form.Get(key)
		return &v
	}

	patch.Time = str("time")
	patch.Vendor = str("vendor")
	patch.Location = str("location")
	patch.Notes = str("notes")

	if v := str("date"); v != nil {
		d, err := ParseDate(*v)
		if err != nil {
			return patch, err
		}
		patch.Date = &d
	}
	if v := str("amount"); v != nil {
		amount, err := formAmount(*v)
		if err != nil {
			return patch, err
		}
		patch.Amount = &amount
	}
	if v := str("category"); v != nil {
		c, err := formCategory(*v)
		if err != nil {
			return patch, err
		}
		patch.Category = &c
	}
	return patch, nil
}

// periodParam reads year and month from the query, defaulting to the current month
func (s *Server) periodParam(r *http.Request) (spending.Period, error) {
	q := r.URL.Query()
	if q.Get("year") == "" && q.Get("month") == "" {
		return spending.PeriodOf(s.service.timeSource.Now()), nil
	}
	period, err := spending.ParsePeriod(q.Get("year"), q.Get("month"))
	if err != nil {
		return spending.Period{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return period, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleScanReceipt stores an image and returns the extracted draft
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	upload, err := parseMultipart(w, r)
	if err == nil && upload == nil {
		err = fmt.Errorf("%w: no file was selected, please choose a file to upload", ErrValidation)
	}
	if err != nil {
		writeServiceError(w, r, err, "Not found")
		return
	}

	draft, err := s.service.ScanReceipt(r.Context(), ownerOf(r), *upload)
	if err != nil {
		writeServiceError(w, r, err, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// handleCreateReceipt saves a receipt from JSON, or from multipart fields with an optional image
func (s *Server) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	var (
		input ReceiptInput
		image *Upload
		err   error
	)
	if isMultipart(r) {
		if image, err = parseMultipart(w, r); err == nil {
			input, err = inputFromForm(r)
		}
	} else {
		err = decodeJSON(w, r, &input)
	}
	if err != nil {
		writeServiceError(w, r, err, "Not found")
		return
	}

	receipt, err := s.service.CreateReceipt(r.Context(), ownerOf(r), input, image)
	if err != nil {
		writeServiceError(w, r, err, "Not found")
		return
	}
	writeJSON(w, http.StatusCreated, s.receiptResponse(receipt))
}

// handleListReceipts returns all receipts, or those of one month when year and month are given
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	var (
		receipts []*Receipt
		err      error
	)
	q := r.URL.Query()
	if q.Get("year") != "" || q.Get("month") != "" {
		var period spending.Period
		if period, err = s.periodParam(r); err == nil {
			receipts, err = s.service.ListReceiptsByMonth(r.Context(), ownerOf(r), period)
		}
	} else {
		receipts, err = s.service.ListReceipts(r.Context(), ownerOf(r))
	}
	if err != nil {
		writeServiceError(w, r, err, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, s.receiptResponses(receipts))
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.Context(), ownerOf(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err, "Receipt not found")
		return
	}
	writeJSON(w, http.StatusOK, s.receiptResponse(receipt))
}

// handleUpdateReceipt applies a JSON patch, or multipart fields with an optional replacement image
func (s *Server) handleUpdateReceipt(w http.ResponseWriter, r *http.Request) {
	var (
		patch ReceiptPatch
		image *Upload
		err   error
	)
	if isMultipart(r) {
		if image, err = parseMultipart(w, r); err == nil {
			patch, err = patchFromForm(r)
		}
	} else {
		err = decodeJSON(w, r, &patch)
	}
	if err != nil {
		writeServiceError(w, r, err, "Receipt not found")
		return
	}

	receipt, err := s.service.UpdateReceipt(r.Context(), ownerOf(r), r.PathValue("id"), patch, image)
	if err != nil {
		writeServiceError(w, r, err, "Receipt not found")
		return
	}
	writeJSON(w, http.StatusOK, s.receiptResponse(receipt))
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.Context(), ownerOf(r), r.PathValue("id")); err != nil {
		writeServiceError(w, r, err, "Receipt not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBatchDelete deletes the selected receipts
func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err, "Not found")
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "No receipts selected")
		return
	}

	deleted, err := s.service.DeleteReceipts(r.Context(), ownerOf(r), req.IDs)
	if err != nil {
		writeServiceError(w, r, err, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// handleGetReceiptImage returns the image of a receipt
func (s *Server) handleGetReceiptImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, redirect, err := s.service.ReceiptImage(r.Context(), ownerOf(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err, "File not found")
		return
	}
	if redirect != "" {
		http.Redirect(w, r, redirect, http.StatusFound)
		return
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleGetFile serves a stored file by path
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.StoredFile(r.Context(), ownerOf(r), r.PathValue("path"))
	if err != nil {
		writeServiceError(w, r, err, "File not found")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}

// handleSummary returns the monthly summary
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	period, err := s.periodParam(r)
	if err != nil {
		writeServiceError(w, r, err, "Not found")
		return
	}

	summary, err := s.service.MonthlySummary(r.Context(), ownerOf(r), period)
	if err != nil {
		writeServiceError(w, r, err, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleReport exports the monthly report
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	period, err := s.periodParam(r)
	if err != nil {
		writeServiceError(w, r, err, "Not found")
		return
	}

	data, err := s.service.MonthlyReport(r.Context(), ownerOf(r), period)
	if err != nil {
		writeServiceError(w, r, err, "Not found")
		return
	}
	writeReport(w, r, data, "spending-"+period.String())
}

// writeReport renders data in the format named by the "format" query parameter (default html)
func writeReport(w http.ResponseWriter, r *http.Request, data report.Data, basename string) {
	var (
		buf         bytes.Buffer
		contentType string
		err         error
	)
	switch format := r.URL.Query().Get("format"); format {
	case "", "html":
		contentType = report.ContentTypeHTML
		err = report.WriteHTML(&buf, data)
	case "xlsx":
		contentType = report.ContentTypeXLSX
		err = report.WriteXLSX(&buf, data)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.xlsx"`, basename))
	case "json":
		writeJSON(w, http.StatusOK, data)
		return
	default:
		writeError(w, http.StatusBadRequest, "format must be html, xlsx or json")
		return
	}
	if err != nil {
		w.Header().Del("Content-Disposition")
		writeServiceError(w, r, err, "Not found")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(buf.Bytes())
}

// handleListSubmissions returns a list of all submissions
func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	submissions, err := s.service.ListSubmissions(r.Context(), ownerOf(r))
	if err != nil {
		writeServiceError(w, r, err, "Not found")
		return
	}

	// Ensure we always return an array, not nil
	if submissions == nil {
		submissions = []*Submission{}
	}
	writeJSON(w, http.StatusOK, submissions)
}

// handleCreateSubmission handles submission creation
func (s *Server) handleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReceiptIDs []string `json:"receipt_ids"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err, "Not found")
		return
	}

	submission, err := s.service.CreateSubmission(r.Context(), ownerOf(r), req.ReceiptIDs)
	if err != nil {
		writeServiceError(w, r, err, "Receipt not found")
		return
	}
	writeJSON(w, http.StatusCreated, submission)
}

// handleGetSubmission returns a submission with its receipts
func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	submission, receipts, err := s.service.GetSubmissionWithReceipts(r.Context(), ownerOf(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err, "Submission not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"submission": submission,
		"receipts":   s.receiptResponses(receipts),
	})
}

// handleSubmissionReport exports the report of a submission
func (s *Server) handleSubmissionReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := s.service.SubmissionReport(r.Context(), ownerOf(r), id)
	if err != nil {
		writeServiceError(w, r, err, "Submission not found")
		return
	}
	writeReport(w, r, data, "submission-"+id)
}
