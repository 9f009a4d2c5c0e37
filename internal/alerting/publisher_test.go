package alerting

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentry/internal/domain"
	"github.com/aristath/sentry/internal/storage"
)

func newTestAlertRepo(t *testing.T) *storage.AlertRepository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sentry-test.db")
	db, err := storage.New(storage.Config{Path: dbPath, Profile: storage.ProfileLedger})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewAlertRepository(db.Conn())
}

func newTestAlertRepoWithConn(t *testing.T) (*storage.AlertRepository, *storage.DB) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sentry-test.db")
	db, err := storage.New(storage.Config{Path: dbPath, Profile: storage.ProfileLedger})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewAlertRepository(db.Conn()), db
}

func TestPublisherLongTriggerDedupSkipsSecondPublish(t *testing.T) {
	repo, db := newTestAlertRepoWithConn(t)
	coins := storage.NewCoinRepository(db.Conn())
	coin, err := coins.Create(domain.Coin{Chain: "solana", TokenAddress: "a1", Symbol: "FOO", IsActive: true, AddedAtUtc: 1})
	require.NoError(t, err)

	bus := NewBus()
	log := zerolog.Nop()
	publisher := NewPublisher(bus, repo, "chat-1", log)

	var published int
	bus.Subscribe(EventLongTrigger, func(e AlertEvent) { published++ })

	data := LongTriggerData{CoinID: coin.CoinID, Symbol: "FOO", TriggerType: "retrace", EvaluationTick: 100, Price: 1.5}

	err = publisher.PublishLongTrigger(coin.CoinID, 1700000000, data)
	require.NoError(t, err)
	err = publisher.PublishLongTrigger(coin.CoinID, 1700000000, data)
	require.NoError(t, err)

	require.Equal(t, 1, published)
}

func TestPublisherHotAlertEnqueuesOutboxRow(t *testing.T) {
	repo, db := newTestAlertRepoWithConn(t)
	hotEntries := storage.NewHotEntryRepository(db.Conn())
	entry, err := hotEntries.Create(domain.HotEntry{Chain: "solana", ContractAddress: "a1", Symbol: "BAR", AddedAtUtc: 1, AnchorPrice: 1})
	require.NoError(t, err)

	bus := NewBus()
	log := zerolog.Nop()
	publisher := NewPublisher(bus, repo, "chat-1", log)

	data := HotAlertData{HotID: entry.HotID, Symbol: "BAR", AlertType: "hot_pct", Tick: 1, Price: 2.0, DeltaFromAnchor: 25, TargetValue: 25}
	err = publisher.PublishHotAlert(entry.HotID, 1700000000, data)
	require.NoError(t, err)

	rows, err := repo.DrainPending(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "chat-1", rows[0].ChatID)
}

func TestPublisherSystemAlertAlwaysCritical(t *testing.T) {
	repo := newTestAlertRepo(t)
	bus := NewBus()
	log := zerolog.Nop()
	publisher := NewPublisher(bus, repo, "chat-1", log)

	var seen Priority
	bus.Subscribe(EventSystemAlert, func(e AlertEvent) { seen = e.Priority })

	err := publisher.PublishSystemAlert(1700000000, SystemAlertData{Code: "test", Message: "boom"})
	require.NoError(t, err)
	require.Equal(t, PriorityCritical, seen)
}
