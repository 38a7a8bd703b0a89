package targets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/zotero-go/internal/credential"
	"github.com/tonimelisma/zotero-go/internal/library"
	"github.com/tonimelisma/zotero-go/internal/prefs"
	"github.com/tonimelisma/zotero-go/internal/zotero"
)

// DefaultConcurrency is the number of libraries discovered in parallel
// when the caller does not choose.
const DefaultConcurrency = 4

const userLibraryName = "My Library"

// pending is one discovery computation. sel and err are written once,
// before done is closed.
type pending struct {
	done chan struct{}
	sel  *Selection
	err  error
}

// Resolver discovers save targets and caches the result. Concurrent
// callers share one computation. A computation that fails, or finds no
// credential, is not cached.
type Resolver struct {
	api         *zotero.Client
	creds       *credential.Store
	prefs       prefs.Store
	concurrency int
	logger      *slog.Logger

	mu   sync.Mutex
	slot *pending
}

// NewResolver creates a Resolver. concurrency bounds how many libraries
// are fetched at once; values below one use DefaultConcurrency.
func NewResolver(api *zotero.Client, creds *credential.Store, p prefs.Store, concurrency int, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}

	return &Resolver{
		api:         api,
		creds:       creds,
		prefs:       p,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Targets returns the discovered targets, or (nil, nil) when no
// credential is stored. force discards the cached result and starts a
// new computation, which later callers share. The computation is not
// tied to ctx: canceling ctx only stops this caller waiting.
func (r *Resolver) Targets(ctx context.Context, force bool) (*Selection, error) {
	r.mu.Lock()
	p := r.slot

	if p == nil || force {
		p = &pending{done: make(chan struct{})}
		r.slot = p

		go r.compute(context.WithoutCancel(ctx), p)
	}
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
	}

	if p.sel == nil {
		return nil, p.err
	}

	return p.sel.Clone(), nil
}

func (r *Resolver) compute(ctx context.Context, p *pending) {
	p.sel, p.err = r.discover(ctx)
	r.settle(p)
}

// settle evicts p if it produced nothing and is still the cached entry,
// then releases its waiters.
func (r *Resolver) settle(p *pending) {
	if p.sel == nil {
		r.mu.Lock()
		if r.slot == p {
			r.slot = nil
		}
		r.mu.Unlock()
	}

	close(p.done)
}

// SetPreferred persists row as the preferred target. A cached result is
// replaced by a copy whose Preferred is row; nothing is fetched.
func (r *Resolver) SetPreferred(ctx context.Context, row Row) error {
	value := row.ID
	if value == "" {
		value = row.Library.PrefKey()
	}

	if err := r.prefs.Set(ctx, PrefLastTarget, value); err != nil {
		return fmt.Errorf("targets: saving preferred target: %w", err)
	}

	r.logger.Info("preferred target set", slog.String("target", value))

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.slot
	if prev == nil {
		return nil
	}

	next := &pending{done: make(chan struct{})}
	r.slot = next

	go func() {
		<-prev.done

		if prev.sel != nil {
			sel := prev.sel.Clone()
			sel.Preferred = row
			next.sel = sel
		} else {
			next.err = prev.err
		}

		r.settle(next)
	}()

	return nil
}

// Invalidate drops the cached result so the next call rediscovers.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.slot = nil
	r.mu.Unlock()

	r.logger.Debug("target cache invalidated")
}

// libraryOutcome is what discovery found in one library. err records a
// partial failure; rows and tags hold whatever was fetched.
type libraryOutcome struct {
	rows []Row
	tags []string
	err  error
}

func (r *Resolver) discover(ctx context.Context) (*Selection, error) {
	cred, err := r.creds.Load(ctx)
	if err != nil {
		return nil, err
	}

	if cred == nil {
		r.logger.Debug("target discovery skipped, not authorized")
		return nil, nil //nolint:nilnil // no credential means no targets
	}

	apiKey := cred.APIKey()
	user := library.User(cred.UserID)

	roots := []Row{{
		ID:              user.RootID(),
		Name:            userLibraryName,
		Library:         user,
		FilesEditable:   true,
		LibraryEditable: true,
	}}
	roots = append(roots, r.groupRoots(ctx, cred.UserID, apiKey)...)

	outcomes := make([]libraryOutcome, len(roots))

	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i, root := range roots {
		g.Go(func() error {
			outcomes[i] = r.fetchLibrary(ctx, root, cred.UserID, apiKey)
			return nil
		})
	}

	_ = g.Wait() //nolint:errcheck // workers never fail; outcomes carry errors

	sel := &Selection{Tags: make(map[string][]string, len(roots))}

	for i, root := range roots {
		out := outcomes[i]

		sel.Targets = append(sel.Targets, root)
		sel.Targets = append(sel.Targets, out.rows...)
		sel.Tags[root.ID] = out.tags

		if out.err != nil {
			r.logger.Warn("library discovery incomplete",
				slog.String("library", root.ID),
				slog.String("error", out.err.Error()),
			)
		}
	}

	sel.Preferred = r.preferred(ctx, sel)

	r.logger.Info("targets discovered",
		slog.Int("libraries", len(roots)),
		slog.Int("targets", len(sel.Targets)),
	)

	return sel, nil
}

// groupRoots lists the user's groups as library root rows. A failed
// listing only loses the groups.
func (r *Resolver) groupRoots(ctx context.Context, userID, apiKey string) []Row {
	listing := r.api.FetchAll(ctx, "users/"+url.PathEscape(userID)+"/groups", apiKey)
	if listing.Stopped != nil {
		r.logger.Warn("group listing incomplete",
			slog.String("error", zotero.Redact(listing.Stopped.Error(), apiKey)),
		)
	}

	groups, skipped := zotero.DecodeGroups(listing.Items)
	if skipped > 0 {
		r.logger.Warn("skipped undecodable groups", slog.Int("count", skipped))
	}

	rows := make([]Row, 0, len(groups))

	for _, g := range groups {
		desc, err := library.Group(g.ID)
		if err != nil {
			continue
		}

		name := g.Name
		if name == "" {
			name = "Group " + g.ID
		}

		rows = append(rows, Row{
			ID:              desc.RootID(),
			Name:            name,
			Library:         desc,
			FilesEditable:   editable(g.FileEditing),
			LibraryEditable: editable(g.LibraryEditing),
		})
	}

	return rows
}

// editable maps a group's fileEditing/libraryEditing setting. Absent
// means editable.
func editable(setting string) bool {
	return setting != "none"
}

// fetchLibrary lists a library's collections and tags concurrently.
func (r *Resolver) fetchLibrary(ctx context.Context, root Row, userID, apiKey string) libraryOutcome {
	path := root.Library.Path(userID)

	var cols, tags zotero.Listing

	var g errgroup.Group

	g.Go(func() error {
		cols = r.api.FetchAll(ctx, path+"/collections", apiKey)
		return nil
	})
	g.Go(func() error {
		tags = r.api.FetchAll(ctx, path+"/tags", apiKey)
		return nil
	})

	_ = g.Wait() //nolint:errcheck // listings report failure in Stopped

	collections, skipped := zotero.DecodeCollections(cols.Items)

	var errs []error
	if cols.Stopped != nil {
		errs = append(errs, fmt.Errorf("collections: %s", zotero.Redact(cols.Stopped.Error(), apiKey)))
	}

	if tags.Stopped != nil {
		errs = append(errs, fmt.Errorf("tags: %s", zotero.Redact(tags.Stopped.Error(), apiKey)))
	}

	if skipped > 0 {
		errs = append(errs, fmt.Errorf("collections: %d entries could not be decoded", skipped))
	}

	out := libraryOutcome{
		rows: buildCollectionRows(root, collections),
		tags: zotero.DecodeTags(tags.Items),
	}

	if len(errs) > 0 {
		out.err = fmt.Errorf("%w: %w", zotero.ErrPartialDiscovery, errors.Join(errs...))
	}

	return out
}

// preferred picks the row named by the stored preference, or the first row.
func (r *Resolver) preferred(ctx context.Context, sel *Selection) Row {
	value, ok, err := r.prefs.Get(ctx, PrefLastTarget)
	if err != nil {
		r.logger.Warn("reading preferred target failed", slog.String("error", err.Error()))
	}

	if ok && value != "" {
		if row, found := sel.Find(value); found {
			return row
		}
	}

	return sel.Targets[0]
}
