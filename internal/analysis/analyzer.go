// Package analysis propagates a change through the dependency graph and
// scores every reached component, endpoint, service, doc and chat thread.
package analysis

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rohankatakam/impactgraph/internal/depgraph"
	"github.com/rohankatakam/impactgraph/internal/errors"
	"github.com/rohankatakam/impactgraph/internal/models"
)

// Fixed confidences used during propagation
const (
	ChangedComponentConfidence = 0.95
	ChangedDocConfidence       = 0.85
	ChangedAPIConfidence       = 0.90
	ChangedServiceConfidence   = 0.90
	ChatOverlapConfidence      = 0.70
	ChatNoOverlapConfidence    = 0.50

	decayStart = 0.9
	decayStep  = 0.15
	decayFloor = 0.4
)

// Config bounds the analysis
type Config struct {
	MaxDepth           int `mapstructure:"max_depth" yaml:"max_depth"`
	MaxRecommendations int `mapstructure:"max_recommendations" yaml:"max_recommendations"`
}

// DefaultConfig returns the default analysis bounds
func DefaultConfig() Config {
	return Config{MaxDepth: 3, MaxRecommendations: 5}
}

// Analyzer is stateless apart from its configuration; one instance can
// serve concurrent calls.
type Analyzer struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Analyzer
type Option func(*Analyzer)

// WithClock overrides the report timestamp source
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// WithLogger sets the analyzer logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = logger }
}

// New creates an analyzer. Non-positive bounds fall back to defaults.
func New(cfg Config, opts ...Option) *Analyzer {
	def := DefaultConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.MaxRecommendations <= 0 {
		cfg.MaxRecommendations = def.MaxRecommendations
	}
	a := &Analyzer{
		cfg:    cfg,
		logger: slog.Default().With("component", "analyzer"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the effective configuration
func (a *Analyzer) Config() Config {
	return a.cfg
}

// DepthConfidence is the decayed confidence of a component reached at
// depth hops from a changed component
func DepthConfidence(depth int) float64 {
	if depth < 1 {
		depth = 1
	}
	return math.Max(decayFloor, decayStart-decayStep*float64(depth-1))
}

// Analyze maps the change's files to components, walks their dependents up
// to MaxDepth hops and collects everything reachable. change, chat and seeds
// are each optional. A nil or invalid graph yields an empty report.
func (a *Analyzer) Analyze(g *depgraph.Graph, change *models.GitChange, chat *models.ChatComplaint, seeds []string) *models.ImpactReport {
	report := a.newReport(change, chat)
	if !g.Valid() {
		a.logger.Warn("dependency graph unavailable, returning empty report", "change_id", report.ChangeID)
		report.RecomputeLevel()
		return report
	}

	w := &walk{g: g, cfg: a.cfg}
	w.mapChanged(change, g.CanonicalAll(seeds))
	w.propagate()
	w.collect()
	if chat != nil {
		w.matchChat(chat)
	}

	report.ChangedComponents = w.changedEntities()
	report.ImpactedComponents = w.impactedEntities()
	report.ChangedAPIs = sortedEntities(w.changedAPIs)
	report.ImpactedAPIs = sortedEntities(w.impactedAPIs)
	report.ImpactedServices = sortedEntities(w.services)
	report.ImpactedDocs = sortedEntities(w.docs)
	report.ChatThreads = w.chat
	report.Recommendations = a.recommendations(report)
	report.RecomputeLevel()

	a.logger.Debug("impact analyzed",
		"change_id", report.ChangeID,
		"changed", len(report.ChangedComponents),
		"impacted", len(report.ImpactedComponents),
		"docs", len(report.ImpactedDocs),
		"level", report.Level)
	return report
}

// AnalyzeEntities answers a change-impact query for explicit component
// and artifact ids. Supplying neither is a caller error.
func (a *Analyzer) AnalyzeEntities(g *depgraph.Graph, componentIDs, artifactIDs []string) (*models.ImpactReport, error) {
	if len(nonEmpty(componentIDs)) == 0 && len(nonEmpty(artifactIDs)) == 0 {
		return nil, errors.ValidationError("at least one component id or artifact id is required")
	}

	seeds := nonEmpty(componentIDs)
	for _, id := range nonEmpty(artifactIDs) {
		art, ok := g.Artifact(id)
		if !ok {
			a.logger.Warn("unknown artifact in impact query", "artifact", id)
			continue
		}
		seeds = append(seeds, art.ComponentID)
	}

	ids := append(nonEmpty(componentIDs), nonEmpty(artifactIDs)...)
	change := &models.GitChange{
		Identifier: "query:" + strings.Join(ids, ","),
		Title:      "Impact query for " + strings.Join(ids, ", "),
	}
	report := a.Analyze(g, change, nil, seeds)
	report.SourceKind = models.SourceManual
	return report, nil
}

func (a *Analyzer) newReport(change *models.GitChange, chat *models.ChatComplaint) *models.ImpactReport {
	r := &models.ImpactReport{
		Level:              models.ImpactLow,
		SourceKind:         models.SourceManual,
		ChangedComponents:  []models.ImpactedEntity{},
		ImpactedComponents: []models.ImpactedEntity{},
		ChangedAPIs:        []models.ImpactedEntity{},
		ImpactedAPIs:       []models.ImpactedEntity{},
		ImpactedServices:   []models.ImpactedEntity{},
		ImpactedDocs:       []models.ImpactedEntity{},
		ChatThreads:        []models.ImpactedEntity{},
		Recommendations:    []string{},
		Evidence:           []string{},
		Metadata:           map[string]string{},
		Change:             change,
		Chat:               chat,
		GeneratedAt:        a.now().UTC(),
	}
	switch {
	case change != nil:
		r.SourceKind = models.SourceGit
		r.ChangeID = change.Identifier
		r.Title = change.Title
		r.Summary = change.Summary
		if change.Repo != "" {
			r.Metadata["repo"] = change.Repo
		}
	case chat != nil:
		r.SourceKind = models.SourceChat
		r.ChangeID = chat.ChangeID()
		r.Title = "Chat complaint in " + chat.Channel
		r.Summary = chat.Text
	}
	if chat != nil {
		r.Metadata["chat_thread"] = chat.Key()
	}
	if r.Title == "" {
		r.Title = r.ChangeID
	}
	return r
}

// walk holds the per-call traversal state. It is created fresh for every
// Analyze call and never shared.
type walk struct {
	g   *depgraph.Graph
	cfg Config

	changedOrder []string
	fileCounts   map[string]int
	seeded       map[string]bool

	impactedOrder []string
	depth         map[string]int
	via           map[string]string

	changedAPIs  map[string]*models.ImpactedEntity
	impactedAPIs map[string]*models.ImpactedEntity
	services     map[string]*models.ImpactedEntity
	docs         map[string]*models.ImpactedEntity
	chat         []models.ImpactedEntity
}

func (w *walk) mapChanged(change *models.GitChange, seeds []string) {
	w.fileCounts = make(map[string]int)
	w.seeded = make(map[string]bool)

	if change != nil {
		for _, file := range change.Files {
			for _, comp := range w.g.ComponentsForFile(change.Repo, file) {
				if _, seen := w.fileCounts[comp]; !seen {
					w.changedOrder = append(w.changedOrder, comp)
				}
				w.fileCounts[comp]++
			}
		}
	}

	for _, seed := range seeds {
		if _, ok := w.g.Component(seed); !ok {
			continue
		}
		if _, seen := w.fileCounts[seed]; seen {
			continue
		}
		w.fileCounts[seed] = 0
		w.seeded[seed] = true
		w.changedOrder = append(w.changedOrder, seed)
	}
}

// propagate runs a breadth-first walk over the dependents index. The
// visited set starts with the changed components, so no node is entered
// twice and each keeps its shortest depth.
func (w *walk) propagate() {
	w.depth = make(map[string]int)
	w.via = make(map[string]string)

	visited := make(map[string]bool, len(w.changedOrder))
	type item struct {
		id    string
		depth int
	}
	queue := make([]item, 0, len(w.changedOrder))
	for _, id := range w.changedOrder {
		visited[id] = true
		queue = append(queue, item{id: id})
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= w.cfg.MaxDepth {
			continue
		}
		for _, dep := range w.g.Dependents(cur.id) {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			w.depth[dep] = cur.depth + 1
			w.via[dep] = cur.id
			w.impactedOrder = append(w.impactedOrder, dep)
			queue = append(queue, item{id: dep, depth: cur.depth + 1})
		}
	}
}

func (w *walk) collect() {
	w.changedAPIs = make(map[string]*models.ImpactedEntity)
	w.impactedAPIs = make(map[string]*models.ImpactedEntity)
	w.services = make(map[string]*models.ImpactedEntity)
	w.docs = make(map[string]*models.ImpactedEntity)

	for _, comp := range w.changedOrder {
		w.addDocs(comp, ChangedDocConfidence, models.RelationChanged, 0)
		for _, ep := range w.g.EndpointsForComponent(comp) {
			keepMax(w.changedAPIs, w.endpointEntity(ep, ChangedAPIConfidence, models.RelationChanged, 0))
		}
		w.addService(comp, ChangedServiceConfidence, models.RelationChanged, 0)
	}

	for _, comp := range w.impactedOrder {
		d := w.depth[comp]
		dc := DepthConfidence(d)
		rel := relationForDepth(d)
		w.addDocs(comp, math.Max(decayFloor, dc-0.05), rel, d)
		for _, ep := range w.g.EndpointsForComponent(comp) {
			if _, changed := w.changedAPIs[ep.ID]; changed {
				continue
			}
			keepMax(w.impactedAPIs, w.endpointEntity(ep, dc-0.1, rel, d))
		}
		w.addService(comp, dc, rel, d)
	}
}

func (w *walk) addDocs(comp string, confidence float64, relation string, depth int) {
	for _, doc := range w.g.DocsForComponent(comp) {
		meta := models.EntityMetadata{
			Relation:     relation,
			Depth:        depth,
			Via:          comp,
			Repo:         doc.Repo,
			Title:        doc.Title,
			URL:          doc.URL,
			Path:         doc.Path,
			ComponentIDs: []string{comp},
		}
		reason := fmt.Sprintf("describes changed component %s", comp)
		if relation != models.RelationChanged {
			reason = fmt.Sprintf("describes %s, impacted at depth %d", comp, depth)
		}
		e := models.NewImpactedEntity(doc.ID, models.KindDoc, confidence, reason, meta)
		if existing, ok := w.docs[doc.ID]; ok {
			e.Metadata.ComponentIDs = mergeIDs(existing.Metadata.ComponentIDs, comp)
			if existing.Confidence >= e.Confidence {
				existing.Metadata.ComponentIDs = e.Metadata.ComponentIDs
				continue
			}
		}
		w.docs[doc.ID] = &e
	}
}

func (w *walk) endpointEntity(ep *depgraph.Endpoint, confidence float64, relation string, depth int) models.ImpactedEntity {
	reason := fmt.Sprintf("exposed by changed component %s", ep.ComponentID)
	if relation != models.RelationChanged {
		reason = fmt.Sprintf("exposed by %s, impacted at depth %d", ep.ComponentID, depth)
	}
	meta := models.EntityMetadata{
		Relation:     relation,
		Depth:        depth,
		Via:          ep.ComponentID,
		Path:         ep.Path,
		ComponentIDs: []string{ep.ComponentID},
	}
	if ep.Method != "" {
		meta.Extra = map[string]string{"method": ep.Method}
	}
	return models.NewImpactedEntity(ep.ID, models.KindAPI, confidence, reason, meta)
}

func (w *walk) addService(comp string, confidence float64, relation string, depth int) {
	svcID := w.g.ServiceForComponent(comp)
	if svcID == "" {
		return
	}
	meta := models.EntityMetadata{
		Relation:     relation,
		Depth:        depth,
		Via:          comp,
		ComponentIDs: []string{comp},
		ServiceID:    svcID,
	}
	if svc, ok := w.g.Service(svcID); ok {
		meta.Title = svc.Name
	}
	reason := fmt.Sprintf("owns changed component %s", comp)
	if relation != models.RelationChanged {
		reason = fmt.Sprintf("owns %s, impacted at depth %d", comp, depth)
	}
	e := models.NewImpactedEntity(svcID, models.KindService, confidence, reason, meta)
	if existing, ok := w.services[svcID]; ok {
		e.Metadata.ComponentIDs = mergeIDs(existing.Metadata.ComponentIDs, comp)
		if existing.Confidence >= e.Confidence {
			existing.Metadata.ComponentIDs = e.Metadata.ComponentIDs
			return
		}
	}
	w.services[svcID] = &e
}

func (w *walk) matchChat(chat *models.ChatComplaint) {
	affected := make(map[string]bool, len(w.changedOrder)+len(w.impactedOrder))
	for _, id := range w.changedOrder {
		affected[id] = true
	}
	for _, id := range w.impactedOrder {
		affected[id] = true
	}

	refs := w.g.CanonicalAll(chat.ComponentIDs)
	var overlap []string
	for _, id := range refs {
		if affected[id] {
			overlap = append(overlap, id)
		}
	}

	confidence := ChatNoOverlapConfidence
	reason := "complaint does not reference an affected component"
	componentIDs := refs
	if len(overlap) > 0 {
		confidence = ChatOverlapConfidence
		reason = fmt.Sprintf("complaint references affected %s", strings.Join(overlap, ", "))
		componentIDs = overlap
	}

	meta := models.EntityMetadata{
		Relation:     models.RelationChat,
		Channel:      chat.Channel,
		Permalink:    chat.Permalink,
		ComponentIDs: componentIDs,
	}
	if len(chat.APIIDs) > 0 {
		meta.Extra = map[string]string{"api_ids": strings.Join(chat.APIIDs, ",")}
	}
	w.chat = append(w.chat, models.NewImpactedEntity(chat.Key(), models.KindChatThread, confidence, reason, meta))
}

func (w *walk) changedEntities() []models.ImpactedEntity {
	out := make([]models.ImpactedEntity, 0, len(w.changedOrder))
	for _, id := range w.changedOrder {
		n := w.fileCounts[id]
		reason := fmt.Sprintf("%d file(s) mapped", n)
		if w.seeded[id] {
			reason = "seed component"
		}
		meta := models.EntityMetadata{Relation: models.RelationChanged, FileCount: n}
		if c, ok := w.g.Component(id); ok {
			meta.Repo = c.Repo
			meta.Title = c.Name
			meta.ServiceID = c.ServiceID
		}
		out = append(out, models.NewImpactedEntity(id, models.KindComponent, ChangedComponentConfidence, reason, meta))
	}
	return out
}

func (w *walk) impactedEntities() []models.ImpactedEntity {
	out := make([]models.ImpactedEntity, 0, len(w.impactedOrder))
	for _, id := range w.impactedOrder {
		d := w.depth[id]
		via := w.via[id]
		reason := fmt.Sprintf("depends on %s", via)
		if d > 1 {
			reason = fmt.Sprintf("depends on %s, %d hops from the change", via, d)
		}
		meta := models.EntityMetadata{Relation: relationForDepth(d), Depth: d, Via: via}
		if c, ok := w.g.Component(id); ok {
			meta.Repo = c.Repo
			meta.Title = c.Name
			meta.ServiceID = c.ServiceID
		}
		out = append(out, models.NewImpactedEntity(id, models.KindComponent, DepthConfidence(d), reason, meta))
	}
	return out
}

// recommendations picks the most relevant docs and services, then adds one
// entry per chat thread
func (a *Analyzer) recommendations(r *models.ImpactReport) []string {
	candidates := make([]models.ImpactedEntity, 0, len(r.ImpactedDocs)+len(r.ImpactedServices))
	candidates = append(candidates, r.ImpactedDocs...)
	candidates = append(candidates, r.ImpactedServices...)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > a.cfg.MaxRecommendations {
		candidates = candidates[:a.cfg.MaxRecommendations]
	}

	recs := make([]string, 0, len(candidates)+len(r.ChatThreads))
	for _, e := range candidates {
		switch e.Kind {
		case models.KindDoc:
			name := e.Metadata.Title
			if name == "" {
				name = e.ID
			}
			recs = append(recs, fmt.Sprintf("Review %s for changes to %s", name, strings.Join(e.Metadata.ComponentIDs, ", ")))
		case models.KindService:
			recs = append(recs, fmt.Sprintf("Notify owners of %s (%s impact)", e.ID, e.Level))
		}
	}
	for _, t := range r.ChatThreads {
		where := t.Metadata.Channel
		if where == "" {
			where = "the originating channel"
		}
		recs = append(recs, fmt.Sprintf("Follow up in chat thread %s in %s", t.ID, where))
	}
	return recs
}

func relationForDepth(depth int) string {
	if depth <= 1 {
		return models.RelationDirect
	}
	return models.RelationIndirect
}

func keepMax(m map[string]*models.ImpactedEntity, e models.ImpactedEntity) {
	existing, ok := m[e.ID]
	if ok {
		e.Metadata.ComponentIDs = mergeIDs(existing.Metadata.ComponentIDs, e.Metadata.ComponentIDs...)
		if existing.Confidence >= e.Confidence {
			existing.Metadata.ComponentIDs = e.Metadata.ComponentIDs
			return
		}
	}
	m[e.ID] = &e
}

// sortedEntities orders by confidence descending, then id
func sortedEntities(m map[string]*models.ImpactedEntity) []models.ImpactedEntity {
	out := make([]models.ImpactedEntity, 0, len(m))
	for _, e := range m {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func mergeIDs(list []string, ids ...string) []string {
	out := append([]string(nil), list...)
	for _, id := range ids {
		found := false
		for _, have := range out {
			if have == id {
				found = true
				break
			}
		}
		if !found {
			out = append(out, id)
		}
	}
	return out
}

func nonEmpty(ids []string) []string {
	var out []string
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
