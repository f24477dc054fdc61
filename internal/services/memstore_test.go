package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"custody/internal/apperr"
	"custody/internal/models"
	"custody/internal/store"
	"custody/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// memDB is an in-memory stand-in for Postgres. memTxRunner serializes units
// of work and restores the pre-transaction state when fn fails, which is the
// strongest isolation the real row locks provide.
type memDB struct {
	mu      sync.Mutex
	users   map[string]models.User
	wallets map[string]models.Wallet
	txns    map[string]models.Transaction
	keys    map[string]models.APIKey
	audits  []auditEntry
	locks   []string
	clock   *testClock
}

type auditEntry struct {
	actorID, action, entityType, entityID, data string
}

type memSnapshot struct {
	users   map[string]models.User
	wallets map[string]models.Wallet
	txns    map[string]models.Transaction
	keys    map[string]models.APIKey
	audits  []auditEntry
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

// Now advances one millisecond per call so rows keep a stable order.
func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newMemDB() *memDB {
	return &memDB{
		users:   map[string]models.User{},
		wallets: map[string]models.Wallet{},
		txns:    map[string]models.Transaction{},
		keys:    map[string]models.APIKey{},
		clock:   newTestClock(),
	}
}

func (m *memDB) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := memSnapshot{
		users:   map[string]models.User{},
		wallets: map[string]models.Wallet{},
		txns:    map[string]models.Transaction{},
		keys:    map[string]models.APIKey{},
		audits:  append([]auditEntry(nil), m.audits...),
	}
	for k, v := range m.users {
		snap.users[k] = v
	}
	for k, v := range m.wallets {
		snap.wallets[k] = v
	}
	for k, v := range m.txns {
		snap.txns[k] = v
	}
	for k, v := range m.keys {
		snap.keys[k] = v
	}
	return snap
}

func (m *memDB) restore(snap memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = snap.users
	m.wallets = snap.wallets
	m.txns = snap.txns
	m.keys = snap.keys
	m.audits = snap.audits
}

func (m *memDB) addUser(id, email string) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	user := models.User{ID: id, Email: email, Name: email, CreatedAt: m.clock.Now()}
	m.users[id] = user
	return user
}

func (m *memDB) addWallet(id, userID, number string, balance int64) models.Wallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	wallet := models.Wallet{ID: id, UserID: userID, WalletNumber: number, Balance: balance, CreatedAt: m.clock.Now()}
	m.wallets[id] = wallet
	return wallet
}

func (m *memDB) balance(walletID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[walletID].Balance
}

func (m *memDB) txn(reference string) (models.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[reference]
	return txn, ok
}

func (m *memDB) countTxns(txType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, txn := range m.txns {
		if txn.Type == txType {
			n++
		}
	}
	return n
}

// memTxRunner runs one unit of work at a time. Row locks and unique
// constraints are not emulated here; the store tests and the schema
// constraints cover them.
type memTxRunner struct {
	mu sync.Mutex
	db *memDB
}

func (r *memTxRunner) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.db.snapshot()
	if err := fn(nil); err != nil {
		r.db.restore(snap)
		return err
	}
	return nil
}

type memWallets struct{ *memDB }

func (m memWallets) Create(ctx context.Context, tx store.Execer, id, userID, walletNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.UserID == userID {
			return &pq.Error{Code: "23505", Constraint: userWalletConstraint}
		}
		if w.WalletNumber == walletNumber {
			return &pq.Error{Code: "23505", Constraint: walletNumberConstraint}
		}
	}
	m.wallets[id] = models.Wallet{ID: id, UserID: userID, WalletNumber: walletNumber, CreatedAt: m.clock.Now()}
	return nil
}

func (m memWallets) NumberExists(ctx context.Context, walletNumber string) (bool, error) {
	_, err := m.GetByNumber(ctx, walletNumber)
	return err == nil, nil
}

func (m memWallets) GetByID(ctx context.Context, walletID string) (models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok {
		return models.Wallet{}, sql.ErrNoRows
	}
	return w, nil
}

func (m memWallets) GetByUserID(ctx context.Context, userID string) (models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.UserID == userID {
			return w, nil
		}
	}
	return models.Wallet{}, sql.ErrNoRows
}

func (m memWallets) GetByNumber(ctx context.Context, walletNumber string) (models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.WalletNumber == walletNumber {
			return w, nil
		}
	}
	return models.Wallet{}, sql.ErrNoRows
}

func (m memWallets) GetForUpdate(ctx context.Context, tx store.Getter, walletID string) (models.Wallet, error) {
	m.mu.Lock()
	m.locks = append(m.locks, walletID)
	m.mu.Unlock()
	return m.GetByID(ctx, walletID)
}

func (m memWallets) AdjustBalance(ctx context.Context, tx store.Execer, walletID string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok || w.Balance+delta < 0 {
		return 0, nil
	}
	w.Balance += delta
	m.wallets[walletID] = w
	return 1, nil
}

type memTransactions struct{ *memDB }

func (m memTransactions) Create(ctx context.Context, tx store.Execer, input store.TransactionInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txns[input.Reference]; ok {
		return apperr.ErrDuplicateReference
	}
	now := m.clock.Now()
	m.txns[input.Reference] = models.Transaction{
		ID:                input.ID,
		Reference:         input.Reference,
		UserID:            input.UserID,
		Amount:            input.Amount,
		Status:            input.Status,
		Type:              input.Type,
		AuthorizationURL:  input.AuthorizationURL,
		SenderWalletID:    input.SenderWalletID,
		RecipientWalletID: input.RecipientWalletID,
		Email:             input.Email,
		PaidAt:            input.PaidAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	return nil
}

func (m memTransactions) GetByReference(ctx context.Context, reference string) (models.Transaction, error) {
	txn, ok := m.txn(reference)
	if !ok {
		return models.Transaction{}, sql.ErrNoRows
	}
	return txn, nil
}

func (m memTransactions) GetByReferenceForUpdate(ctx context.Context, tx store.Getter, reference string) (models.Transaction, error) {
	return m.GetByReference(ctx, reference)
}

func (m memTransactions) UpdateStatus(ctx context.Context, tx store.Execer, reference, status string, paidAt *time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[reference]
	if !ok || txn.Status != models.StatusPending {
		return 0, nil
	}
	txn.Status = status
	if paidAt != nil {
		txn.PaidAt = paidAt
	}
	m.txns[reference] = txn
	return 1, nil
}

func (m memTransactions) FindRecent(ctx context.Context, email string, amount int64, since time.Time) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.Transaction
	for _, txn := range m.txns {
		txn := txn
		if txn.Type != models.TypeDeposit || txn.Status == models.StatusFailed || txn.Amount != amount {
			continue
		}
		if txn.Email == nil || *txn.Email != email || txn.CreatedAt.Before(since) {
			continue
		}
		if best == nil || txn.CreatedAt.After(best.CreatedAt) {
			best = &txn
		}
	}
	if best == nil {
		return models.Transaction{}, sql.ErrNoRows
	}
	return *best, nil
}

func (m memTransactions) ListByUser(ctx context.Context, userID, walletID, txType string, limit, offset int) ([]models.TransactionView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.TransactionView
	for _, txn := range m.txns {
		incoming := txn.RecipientWalletID != nil && *txn.RecipientWalletID == walletID
		if txn.UserID != userID && !incoming {
			continue
		}
		if txType != "" && txn.Type != txType {
			continue
		}
		view := models.TransactionView{Transaction: txn}
		if txn.SenderWalletID != nil {
			view.SenderWalletNumber = stringPtr(m.wallets[*txn.SenderWalletID].WalletNumber)
		}
		if txn.RecipientWalletID != nil {
			view.RecipientWalletNumber = stringPtr(m.wallets[*txn.RecipientWalletID].WalletNumber)
		}
		rows = append(rows, view)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (m memTransactions) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.Transaction
	for _, txn := range m.txns {
		if txn.Type == models.TypeDeposit && txn.Status == models.StatusPending && txn.CreatedAt.Before(olderThan) {
			rows = append(rows, txn)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

type memUsers struct{ *memDB }

func (m memUsers) Create(ctx context.Context, tx store.Execer, user models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return &pq.Error{Code: "23505", Constraint: userEmailConstraint}
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m memUsers) GetByID(ctx context.Context, userID string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return models.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (m memUsers) GetByEmail(ctx context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, sql.ErrNoRows
}

func (m memUsers) LockForUpdate(ctx context.Context, tx store.Getter, userID string) error {
	_, err := m.GetByID(ctx, userID)
	return err
}

type memKeys struct{ *memDB }

func (m memKeys) Create(ctx context.Context, tx store.Execer, key models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.ID] = key
	return nil
}

func (m memKeys) GetByPrefix(ctx context.Context, prefix string) (models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.keys {
		if k.KeyPrefix == prefix {
			return k, nil
		}
	}
	return models.APIKey{}, sql.ErrNoRows
}

func (m memKeys) GetForUser(ctx context.Context, q store.Getter, keyID, userID string) (models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[keyID]
	if !ok || k.UserID != userID {
		return models.APIKey{}, sql.ErrNoRows
	}
	return k, nil
}

func (m memKeys) CountActive(ctx context.Context, q store.Getter, userID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range m.keys {
		if k.UserID == userID && k.IsActive && k.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

func (m memKeys) ListByUser(ctx context.Context, userID string) ([]models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.APIKey
	for _, k := range m.keys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m memKeys) Deactivate(ctx context.Context, tx store.Execer, keyID, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[keyID]
	if !ok || k.UserID != userID || !k.IsActive {
		return 0, nil
	}
	k.IsActive = false
	m.keys[keyID] = k
	return 1, nil
}

func (m *memDB) expireKey(keyID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.keys[keyID]
	k.ExpiresAt = at
	m.keys[keyID] = k
}

type memAudit struct{ *memDB }

func (m memAudit) Log(ctx context.Context, tx store.Execer, actorID, action, entityType, entityID, data string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, auditEntry{actorID, action, entityType, entityID, data})
	return nil
}

type recordingHub struct {
	mu      sync.Mutex
	updates map[string][]websocket.BalanceUpdate
}

func newRecordingHub() *recordingHub {
	return &recordingHub{updates: map[string][]websocket.BalanceUpdate{}}
}

func (h *recordingHub) BroadcastBalance(userID string, update websocket.BalanceUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates[userID] = append(h.updates[userID], update)
}

func (h *recordingHub) last(userID string) (websocket.BalanceUpdate, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.updates[userID]
	if len(list) == 0 {
		return websocket.BalanceUpdate{}, false
	}
	return list[len(list)-1], true
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, body any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, routingKey)
	return nil
}

func (p *recordingPublisher) count(routingKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == routingKey {
			n++
		}
	}
	return n
}

// fixture wires every service over one memDB.
type fixture struct {
	db        *memDB
	runner    *memTxRunner
	hub       *recordingHub
	publisher *recordingPublisher
	wallets   *WalletService
	ledger    *LedgerService
	transfers *TransferService
	audit     memAudit
}

func newFixture() *fixture {
	mem := newMemDB()
	runner := &memTxRunner{db: mem}
	hub := newRecordingHub()
	publisher := &recordingPublisher{}
	wallets := NewWalletService(runner, memWallets{mem}, hub)
	wallets.now = mem.clock.Now
	ledger := NewLedgerService(memTransactions{mem})
	ledger.now = mem.clock.Now
	return &fixture{
		db:        mem,
		runner:    runner,
		hub:       hub,
		publisher: publisher,
		wallets:   wallets,
		ledger:    ledger,
		transfers: NewTransferService(runner, wallets, ledger, memAudit{mem}, publisher),
		audit:     memAudit{mem},
	}
}
