package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magpielabs/magpie/internal/apperr"
	"github.com/magpielabs/magpie/internal/checksum"
	"github.com/magpielabs/magpie/internal/classify"
	"github.com/magpielabs/magpie/internal/consolidate"
	"github.com/magpielabs/magpie/internal/forget"
	"github.com/magpielabs/magpie/internal/memfs"
	"github.com/magpielabs/magpie/internal/memindex"
	"github.com/magpielabs/magpie/internal/models"
	"github.com/magpielabs/magpie/internal/parser"
	"github.com/magpielabs/magpie/internal/store"
)

// Events receives memory change notifications; in the server this is
// the SSE broker. kind is one of "logged", "updated", "forgotten",
// "consolidated".
type Events interface {
	PublishMemoryEvent(kind, name string)
}

// Service coordinates the record store, the memory file repository, and
// the engines for the API layer.
type Service struct {
	db     *store.DB
	repo   *memfs.Repo
	engine *consolidate.Engine
	logger *slog.Logger
	events Events
}

// NewService creates a new API service.
func NewService(db *store.DB, repo *memfs.Repo, engine *consolidate.Engine, logger *slog.Logger) *Service {
	return &Service{db: db, repo: repo, engine: engine, logger: logger}
}

// SetEvents attaches an event sink. A nil sink (the default) disables
// notifications.
func (s *Service) SetEvents(e Events) { s.events = e }

func (s *Service) notify(kind, name string) {
	if s.events != nil {
		s.events.PublishMemoryEvent(kind, name)
	}
}

// NoteDetail is the response payload for a single memory note.
type NoteDetail struct {
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Title     string    `json:"title"`
	Domain    string    `json:"domain"`
	Content   string    `json:"content"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// --- Record store passthroughs ---

func (s *Service) ListDomains() ([]store.Domain, error)       { return s.db.ListDomains() }
func (s *Service) GetDomain(name string) (store.Domain, error) { return s.db.GetDomain(name) }
func (s *Service) CreateDomain(d store.Domain) (store.Domain, error) {
	return s.db.CreateDomain(d)
}
func (s *Service) UpdateDomain(name string, p store.DomainPatch) (store.Domain, error) {
	return s.db.UpdateDomain(name, p)
}
func (s *Service) DeleteDomain(name string, force bool) error { return s.db.DeleteDomain(name, force) }

func (s *Service) ListItems(f store.ItemFilter) ([]store.Item, error) { return s.db.ListItems(f) }
func (s *Service) GetItem(id string) (store.Item, error)              { return s.db.GetItem(id) }
func (s *Service) CreateItem(domain string, it store.Item) (store.Item, error) {
	return s.db.CreateItem(domain, it)
}
func (s *Service) UpdateItem(id string, p store.ItemPatch) (store.Item, error) {
	return s.db.UpdateItem(id, p)
}
func (s *Service) DeleteItem(id string) error { return s.db.DeleteItem(id) }
func (s *Service) SearchItems(query, domain string, limit int) ([]store.Item, error) {
	return s.db.SearchItems(query, domain, limit)
}
func (s *Service) DomainStats(domain string) (store.Stats, error) { return s.db.DomainStats(domain) }
func (s *Service) ListActions(limit int) ([]store.Action, error)  { return s.db.ListActions(limit) }

// Detect classifies free text into a domain name using the stored
// domain keywords.
func (s *Service) Detect(text string) (string, error) {
	domains, err := s.db.ListDomains()
	if err != nil {
		return "", err
	}
	return classify.Detect(text, domains), nil
}

// --- Episodic memory ---

// LogEpisode appends an entry to today's day file (or the entry's own
// date). An empty domain is classified from the task and outcome text.
func (s *Service) LogEpisode(e models.Entry) (models.Entry, error) {
	if e.Date == "" {
		e.Date = time.Now().Format(parser.DateLayout)
	}
	if e.Domain == "" {
		detected, err := s.Detect(e.Task + " " + e.Outcome)
		if err != nil {
			return models.Entry{}, err
		}
		e.Domain = detected
	}
	if err := s.repo.AppendEpisodic(e.Date, e); err != nil {
		return models.Entry{}, err
	}
	if _, err := s.db.LogAction(e.Agent, "logged episode", "episodic", e.Date, e.Task); err != nil {
		s.logger.Warn("audit log failed", slog.String("error", err.Error()))
	}
	s.notify("logged", "episodic/"+e.Date+".md")
	return e, nil
}

func (s *Service) EpisodicDates() (live, archived []string, err error) {
	if live, err = s.repo.ListEpisodicDates(); err != nil {
		return nil, nil, err
	}
	if archived, err = s.repo.ListArchiveDates(); err != nil {
		return nil, nil, err
	}
	return live, archived, nil
}

func (s *Service) ReadEpisodic(date string) ([]models.Entry, error) {
	return s.repo.ReadEpisodic(date)
}

// --- Semantic and procedural notes ---

func (s *Service) ListNotes(kind models.Kind, domain string) ([]models.NoteMeta, error) {
	if !kind.Valid() || kind == models.KindEpisodic {
		return nil, fmt.Errorf("api: bad note kind %q: %w", kind, apperr.ErrValidation)
	}
	return s.repo.ListNotes(kind, domain)
}

func (s *Service) GetNote(kind models.Kind, name string) (*NoteDetail, error) {
	data, err := s.repo.ReadNote(kind, name)
	if err != nil {
		return nil, err
	}
	return &NoteDetail{
		Kind:      string(kind),
		Name:      name,
		Title:     parser.NoteTitle(data),
		Domain:    parser.NoteDomain(data),
		Content:   string(data),
		Checksum:  checksum.Sum(data),
		UpdatedAt: parser.NoteLastUpdated(data),
	}, nil
}

// UpdateNote replaces a note's content with optimistic concurrency: a
// non-empty ifMatch must equal the checksum of the current content.
// Absent notes are created, but only when no ifMatch is given.
func (s *Service) UpdateNote(kind models.Kind, name string, content []byte, ifMatch string) (*NoteDetail, error) {
	err := s.repo.UpsertNote(kind, name, func(existing []byte) ([]byte, error) {
		switch {
		case existing == nil && ifMatch != "":
			return nil, fmt.Errorf("api: note %s/%s: %w", kind, name, apperr.ErrNotFound)
		case existing != nil && ifMatch != "" && ifMatch != checksum.Sum(existing):
			return nil, fmt.Errorf("api: note %s/%s checksum mismatch: %w", kind, name, apperr.ErrConflict)
		}
		return content, nil
	})
	if err != nil {
		return nil, err
	}
	if err := memindex.Rebuild(s.repo); err != nil {
		return nil, err
	}
	s.notify("updated", string(kind)+"/"+name+".md")
	return s.GetNote(kind, name)
}

func (s *Service) DeleteNote(kind models.Kind, name string) error {
	if err := s.repo.DeleteNote(kind, name); err != nil {
		return err
	}
	s.notify("forgotten", string(kind)+"/"+name+".md")
	return memindex.Rebuild(s.repo)
}

// --- Engines and index ---

func (s *Service) Consolidate(ctx context.Context, today bool, opts consolidate.Options) (*consolidate.Report, error) {
	run := s.engine.Run
	if today {
		run = s.engine.Today
	}
	report, err := run(ctx, opts)
	if err != nil {
		return nil, err
	}
	if opts.Apply && report.Status == consolidate.StatusOK {
		s.notify("consolidated", opts.Domain)
	}
	return report, nil
}

func (s *Service) Forget(f forget.Filters, apply, confirm bool) (forget.Selection, error) {
	sel, err := forget.Forget(s.repo, s.logger, f, apply, confirm)
	if err != nil {
		return sel, err
	}
	if apply && !sel.Empty() {
		s.notify("forgotten", "")
	}
	return sel, nil
}

// ReadIndex returns index.md, rebuilding it first when absent.
func (s *Service) ReadIndex() ([]byte, error) {
	data, err := s.repo.ReadIndex()
	if errors.Is(err, apperr.ErrNotFound) {
		if err := memindex.Rebuild(s.repo); err != nil {
			return nil, err
		}
		return s.repo.ReadIndex()
	}
	return data, err
}

func (s *Service) RebuildIndex() error { return memindex.Rebuild(s.repo) }
