package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/x121/undotree/common/cache"
	"github.com/x121/undotree/common/logger"
	"github.com/x121/undotree/common/metrics"
	"github.com/x121/undotree/common/models"
	"github.com/x121/undotree/common/undo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("undotree/service")

// ErrCurrentNodeMismatch is returned when current_node_id disagrees with the tree blob
var ErrCurrentNodeMismatch = errors.New("current_node_id does not match tree currentNodeId")

// IsValidationError reports whether err should be answered with 400
func IsValidationError(err error) bool {
	return errors.Is(err, undo.ErrInvalidEntityType) ||
		errors.Is(err, undo.ErrInvalidTreeJSON) ||
		errors.Is(err, undo.ErrCorruptTree) ||
		errors.Is(err, ErrCurrentNodeMismatch)
}

// TreeRepository is the storage behind UndoTreeService
type TreeRepository interface {
	GetTree(ctx context.Context, userID, entityType string, entityID int64) (*models.UndoTree, error)
	SaveTree(ctx context.Context, userID, entityType string, entityID int64, input *models.SaveUndoTree) (*models.UndoTree, error)
	DeleteTree(ctx context.Context, userID, entityType string, entityID int64) (bool, error)
	ListForUser(ctx context.Context, userID string) ([]*models.UndoTree, error)
}

// UndoTreeService validates and stores per-user undo trees, with an optional
// read-through cache in front of the repository
type UndoTreeService struct {
	repo  TreeRepository
	cache cache.Cache
	ttl   time.Duration
	log   *logger.Logger
}

// NewUndoTreeService creates a new undo tree service. c may be nil.
func NewUndoTreeService(repo TreeRepository, c cache.Cache, ttl time.Duration, log *logger.Logger) *UndoTreeService {
	return &UndoTreeService{
		repo:  repo,
		cache: c,
		ttl:   ttl,
		log:   log,
	}
}

// GetTree returns the stored tree, or nil if the user has none for the entity
func (s *UndoTreeService) GetTree(ctx context.Context, userID string, key undo.EntityKey) (_ *models.UndoTree, err error) {
	ctx, span := tracer.Start(ctx, "UndoTreeService.GetTree", trace.WithAttributes(entityAttributes(key)...))
	defer func() { endSpan(span, err) }()

	if err := undo.ValidateEntityType(key.Type); err != nil {
		return nil, err
	}

	cacheKey := treeCacheKey(userID, key)
	if tree, ok := s.cached(ctx, cacheKey); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return tree, nil
	}
	span.SetAttributes(attribute.Bool("cache_hit", false))

	timer := prometheus.NewTimer(metrics.StoreDuration.WithLabelValues("get"))
	tree, err := s.repo.GetTree(ctx, userID, key.Type, key.ID)
	timer.ObserveDuration()
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Bool("found", tree != nil))
	if tree != nil {
		s.store(ctx, cacheKey, tree)
	}
	return tree, nil
}

// SaveTree validates the blob and upserts it. A non-empty tree must be
// structurally sound, and current_node_id (when given) must match its cursor.
func (s *UndoTreeService) SaveTree(ctx context.Context, userID string, key undo.EntityKey, input *models.SaveUndoTree) (_ *models.UndoTree, err error) {
	ctx, span := tracer.Start(ctx, "UndoTreeService.SaveTree", trace.WithAttributes(entityAttributes(key)...))
	defer func() { endSpan(span, err) }()

	if err := undo.ValidateEntityType(key.Type); err != nil {
		return nil, err
	}

	if err := validateTreeShape(input.TreeJSON); err != nil {
		return nil, err
	}
	data, err := undo.ParseData(input.TreeJSON)
	if err != nil {
		return nil, err
	}
	if data != nil && input.CurrentNodeID != nil && undo.NodeID(*input.CurrentNodeID) != data.CurrentNodeID {
		return nil, fmt.Errorf("%w: got %q, tree has %q", ErrCurrentNodeMismatch, *input.CurrentNodeID, data.CurrentNodeID)
	}

	nodes := 0
	if data != nil {
		nodes = len(data.Nodes)
	}
	span.SetAttributes(attribute.Int("nodes", nodes), attribute.Int("bytes", len(input.TreeJSON)))

	timer := prometheus.NewTimer(metrics.StoreDuration.WithLabelValues("save"))
	tree, err := s.repo.SaveTree(ctx, userID, key.Type, key.ID, input)
	timer.ObserveDuration()
	if err != nil {
		return nil, err
	}

	s.store(ctx, treeCacheKey(userID, key), tree)

	s.log.WithUser(userID).WithEntity(key.Type, key.ID).Debug("saved undo tree",
		"id", tree.ID,
		"nodes", nodes,
		"bytes", len(tree.TreeJSON),
	)

	return tree, nil
}

// DeleteTree removes the stored tree. Deleting a missing tree is not an error.
func (s *UndoTreeService) DeleteTree(ctx context.Context, userID string, key undo.EntityKey) (err error) {
	ctx, span := tracer.Start(ctx, "UndoTreeService.DeleteTree", trace.WithAttributes(entityAttributes(key)...))
	defer func() { endSpan(span, err) }()

	if err := undo.ValidateEntityType(key.Type); err != nil {
		return err
	}

	timer := prometheus.NewTimer(metrics.StoreDuration.WithLabelValues("delete"))
	deleted, err := s.repo.DeleteTree(ctx, userID, key.Type, key.ID)
	timer.ObserveDuration()
	if err != nil {
		return err
	}

	s.evict(ctx, treeCacheKey(userID, key))

	span.SetAttributes(attribute.Bool("existed", deleted))
	s.log.WithUser(userID).WithEntity(key.Type, key.ID).Info("deleted undo tree", "existed", deleted)
	return nil
}

// ListTrees returns all of the user's trees, most recently updated first
func (s *UndoTreeService) ListTrees(ctx context.Context, userID string) (_ []*models.UndoTree, err error) {
	ctx, span := tracer.Start(ctx, "UndoTreeService.ListTrees")
	defer func() { endSpan(span, err) }()

	timer := prometheus.NewTimer(metrics.StoreDuration.WithLabelValues("list"))
	trees, err := s.repo.ListForUser(ctx, userID)
	timer.ObserveDuration()
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("result_count", len(trees)))
	return trees, nil
}

func entityAttributes(key undo.EntityKey) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("entity_type", key.Type),
		attribute.Int64("entity_id", key.ID),
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func treeCacheKey(userID string, key undo.EntityKey) string {
	return fmt.Sprintf("undo_tree:%s:%s:%d", userID, key.Type, key.ID)
}

func (s *UndoTreeService) cached(ctx context.Context, cacheKey string) (*models.UndoTree, bool) {
	if s.cache == nil {
		return nil, false
	}

	raw, ok, err := s.cache.Get(ctx, cacheKey)
	if err != nil {
		s.log.Warn("undo tree cache read failed", "key", cacheKey, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var tree models.UndoTree
	if err := json.Unmarshal(raw, &tree); err != nil {
		s.log.Warn("dropping undecodable cache entry", "key", cacheKey, "error", err)
		s.evict(ctx, cacheKey)
		return nil, false
	}
	return &tree, true
}

func (s *UndoTreeService) store(ctx context.Context, cacheKey string, tree *models.UndoTree) {
	if s.cache == nil {
		return
	}

	raw, err := json.Marshal(tree)
	if err != nil {
		s.log.Warn("failed to encode undo tree for cache", "key", cacheKey, "error", err)
		return
	}
	if err := s.cache.Set(ctx, cacheKey, raw, s.ttl); err != nil {
		s.log.Warn("undo tree cache write failed", "key", cacheKey, "error", err)
	}
}

func (s *UndoTreeService) evict(ctx context.Context, cacheKey string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		s.log.Warn("undo tree cache delete failed", "key", cacheKey, "error", err)
	}
}
