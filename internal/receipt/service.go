package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/smartreceipt/internal/parsing"
)

// Uncategorized labels items the classifier could not place
const Uncategorized = "uncategorized"

// Parser turns receipt image bytes into a ParsedReceipt
type Parser interface {
	Process(ctx context.Context, image []byte, contentType string) (*parsing.ParsedReceipt, error)
}

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Service handles receipt operations
type Service struct {
	db          DB
	parser      Parser
	storage     Storage
	validate    *validator.Validate
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, parser Parser, storage Storage) *Service {
	return NewServiceWithDeps(db, parser, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, parser Parser, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		parser:      parser,
		storage:     storage,
		validate:    NewValidator(),
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
	safeExtension       = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(repeatedSpaces.ReplaceAllString(base, " "))

	// Truncate to reasonable length (50 chars for base, plus extension)
	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}
	if !safeExtension.MatchString(ext) {
		ext = ""
	}
	return base + ext
}

// ProcessReceipt parses an upload and saves it once per distinct transcript.
// created is false when a receipt with the same content hash already existed,
// in which case that receipt is returned and nothing new is stored.
func (s *Service) ProcessReceipt(ctx context.Context, ownerID, filename string, data []byte, contentType string) (*Receipt, bool, error) {
	parsed, err := s.parser.Process(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to parse receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, false, fmt.Errorf("parsing receipt: %w", err)
	}

	existing, err := s.db.FindByContentHash(parsed.ContentHash)
	switch {
	case err == nil:
		return duplicateFor(ownerID, existing)
	case !errors.Is(err, ErrNotFound):
		return nil, false, fmt.Errorf("looking up content hash: %w", err)
	}

	if err := validateParsed(s.validate, parsed); err != nil {
		return nil, false, err
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, false, fmt.Errorf("saving file: %w", err)
	}
	transcriptPath, err := s.storage.Save(parsed.ContentHash+".txt", []byte(parsed.Transcript))
	if err != nil {
		s.removeFile(savedPath)
		return nil, false, fmt.Errorf("saving transcript: %w", err)
	}

	receipt := fromParsed(parsed)
	receipt.ID = id
	receipt.OwnerID = ownerID
	receipt.TranscriptPath = transcriptPath
	receipt.Filename = savedPath
	receipt.ContentType = contentType
	receipt.CreatedAt = now
	receipt.UpdatedAt = now

	saved, created, err := s.db.UpsertReceipt(receipt)
	if err != nil {
		s.removeFile(savedPath)
		s.removeFile(transcriptPath)
		return nil, false, fmt.Errorf("saving receipt to database: %w", err)
	}
	if !created {
		// Lost a race with an identical upload; the transcript file is shared.
		s.removeFile(savedPath)
		return duplicateFor(ownerID, saved)
	}

	if receipt.Mismatch {
		slog.Warn("Saved receipt with mismatched totals", "id", id, "warnings", receipt.Warnings)
	}
	return saved, true, nil
}

// duplicateFor returns an already saved receipt to its owner only
func duplicateFor(ownerID string, existing *Receipt) (*Receipt, bool, error) {
	slog.Info("Duplicate receipt", "id", existing.ID, "content_hash", existing.ContentHash)
	if existing.OwnerID != ownerID {
		return nil, false, ErrDuplicate
	}
	return existing, false, nil
}

func (s *Service) removeFile(path string) {
	if err := s.storage.Delete(path); err != nil {
		slog.Warn("Failed to delete file", "filename", path, "error", err)
	}
}

// ownedReceipt loads a receipt and hides receipts of other owners
func (s *Service) ownedReceipt(ownerID, id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && receipt.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: receipt %s", ErrNotFound, id)
	}
	return receipt, nil
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(ownerID, id string) (*Receipt, error) {
	receipt, err := s.ownedReceipt(ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns the owner's receipts
func (s *Service) ListReceipts(ownerID string) ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts(ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt and its files
func (s *Service) DeleteReceipt(ownerID, id string) error {
	receipt, err := s.ownedReceipt(ownerID, id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	// Files are removed only after the record is gone
	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}

	s.removeFile(receipt.Filename)
	if receipt.TranscriptPath != "" {
		s.removeFile(receipt.TranscriptPath)
	}
	return nil
}

// GetReceiptFile retrieves the file data for a receipt
func (s *Service) GetReceiptFile(ownerID, id string) ([]byte, string, error) {
	receipt, err := s.ownedReceipt(ownerID, id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}

	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	return data, receipt.ContentType, nil
}

// ListItems returns the line items of one receipt
func (s *Service) ListItems(ownerID, receiptID string) ([]Item, error) {
	if _, err := s.ownedReceipt(ownerID, receiptID); err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	items, err := s.db.ListItems(receiptID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	return items, nil
}

// UpdateItemCategory overrides the predicted category of one line item
func (s *Service) UpdateItemCategory(ownerID, receiptID string, index int, category string) error {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return fmt.Errorf("%w: category is required", parsing.ErrInvalidInput)
	}
	if _, err := s.ownedReceipt(ownerID, receiptID); err != nil {
		return fmt.Errorf("getting receipt: %w", err)
	}
	if err := s.db.UpdateItemCategory(receiptID, index, category); err != nil {
		return fmt.Errorf("updating item category: %w", err)
	}
	return nil
}

// ListStores returns all known stores
func (s *Service) ListStores() ([]*Store, error) {
	stores, err := s.db.ListStores()
	if err != nil {
		return nil, fmt.Errorf("listing stores: %w", err)
	}
	return stores, nil
}

// CategorySummary totals the owner's line items by category, largest first
func (s *Service) CategorySummary(ownerID string) ([]CategoryTotal, error) {
	receipts, err := s.db.ListReceipts(ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	totals := make(map[string]*CategoryTotal)
	for _, r := range receipts {
		for _, item := range r.Items {
			category := item.Category
			if category == "" {
				category = Uncategorized
			}
			t, ok := totals[category]
			if !ok {
				t = &CategoryTotal{Category: category, Total: decimal.Zero}
				totals[category] = t
			}
			t.Total = t.Total.Add(item.LineTotal())
			t.Items++
		}
	}

	summary := make([]CategoryTotal, 0, len(totals))
	for _, t := range totals {
		summary = append(summary, *t)
	}
	sort.Slice(summary, func(i, j int) bool {
		if c := summary[i].Total.Cmp(summary[j].Total); c != 0 {
			return c > 0
		}
		return summary[i].Category < summary[j].Category
	})
	return summary, nil
}
