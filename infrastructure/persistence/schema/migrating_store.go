package schema

import (
	"context"

	"ailego/application/ports"

	"go.uber.org/zap"
)

// MigratingStore upgrades documents on read. With write-back enabled the
// upgraded document is also persisted, so each legacy record migrates once.
type MigratingStore struct {
	ports.RemoteStore
	evolution *Evolution
	writeBack bool
	logger    *zap.Logger
}

// NewMigratingStore wraps next with the migration chain
func NewMigratingStore(next ports.RemoteStore, evolution *Evolution, writeBack bool, logger *zap.Logger) *MigratingStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MigratingStore{
		RemoteStore: next,
		evolution:   evolution,
		writeBack:   writeBack,
		logger:      logger,
	}
}

// GetDocument reads and upgrades one document
func (s *MigratingStore) GetDocument(ctx context.Context, collection, id string) (ports.Document, error) {
	doc, err := s.RemoteStore.GetDocument(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if err := s.upgrade(ctx, collection, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// QueryDocuments upgrades every matching document
func (s *MigratingStore) QueryDocuments(ctx context.Context, collection, field string, value interface{}) ([]ports.Document, error) {
	docs, err := s.RemoteStore.QueryDocuments(ctx, collection, field, value)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if err := s.upgrade(ctx, collection, doc); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func (s *MigratingStore) upgrade(ctx context.Context, collection string, doc ports.Document) error {
	applied, err := s.evolution.Upgrade(collection, doc)
	if err != nil {
		s.logger.Error("Document migration failed",
			zap.String("collection", collection),
			zap.String("id", doc.ID()),
			zap.Error(err),
		)
		return err
	}
	if len(applied) == 0 {
		return nil
	}

	s.logger.Info("Document migrated",
		zap.String("collection", collection),
		zap.String("id", doc.ID()),
		zap.Strings("steps", applied),
		zap.Int("version", Version(doc)),
	)

	if !s.writeBack {
		return nil
	}
	// a failed write-back leaves the legacy record for the next read
	if err := s.RemoteStore.UpdateDocument(ctx, collection, doc.ID(), doc.Clone()); err != nil {
		s.logger.Warn("Failed to persist migrated document",
			zap.String("collection", collection),
			zap.String("id", doc.ID()),
			zap.Error(err),
		)
	}
	return nil
}
