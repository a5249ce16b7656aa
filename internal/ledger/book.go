package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"taxScope/internal/model"
)

// Config fixes the accounting rules of a book for its whole history.
type Config struct {
	Method          Method
	LongTermHolding time.Duration
	IncomeRules     IncomeRules
}

// Outcome collects the events produced by applying movements.
type Outcome struct {
	Realized []model.RealizedEvent
	Income   []model.IncomeEvent
}

// Merge appends other's events.
func (o *Outcome) Merge(other Outcome) {
	o.Realized = append(o.Realized, other.Realized...)
	o.Income = append(o.Income, other.Income...)
}

// Sort orders events by (timestamp, tx hash, token).
func (o *Outcome) Sort() {
	sort.SliceStable(o.Realized, func(i, j int) bool {
		a, b := o.Realized[i], o.Realized[j]
		return eventLess(a.DisposedAt, a.TxHash, a.Token, b.DisposedAt, b.TxHash, b.Token)
	})
	sort.SliceStable(o.Income, func(i, j int) bool {
		a, b := o.Income[i], o.Income[j]
		return eventLess(a.ReceivedAt, a.TxHash, a.Token, b.ReceivedAt, b.TxHash, b.Token)
	})
}

func eventLess(ta time.Time, ha, tokA string, tb time.Time, hb, tokB string) bool {
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	if ha != hb {
		return ha < hb
	}
	return tokA < tokB
}

// RunResult holds one token's events and the ledger state they produced. It
// takes effect only once committed.
type RunResult struct {
	Token string
	Outcome
	ledger *Ledger
}

// Book owns every token ledger of one wallet. Runs for different tokens may
// execute concurrently; Commit serialises installation.
type Book struct {
	wallet string
	cfg    Config

	mu      sync.RWMutex
	ledgers map[string]*Ledger
}

// NewBook returns an empty book. A nil IncomeRules uses DefaultIncomeRules.
func NewBook(wallet string, cfg Config) (*Book, error) {
	method, err := ParseMethod(string(cfg.Method))
	if err != nil {
		return nil, err
	}
	cfg.Method = method
	if cfg.IncomeRules == nil {
		cfg.IncomeRules = DefaultIncomeRules()
	}
	return &Book{
		wallet:  model.NormalizeAddress(wallet),
		cfg:     cfg,
		ledgers: make(map[string]*Ledger),
	}, nil
}

func (b *Book) Wallet() string { return b.wallet }
func (b *Book) Method() Method { return b.cfg.Method }

// Ledger returns the committed ledger for token, if any. Callers must not mutate it.
func (b *Book) Ledger(token string) (*Ledger, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.ledgers[model.NormalizeAddress(token)]
	return l, ok
}

// Seen reports whether the committed ledger for token already applied txHash.
func (b *Book) Seen(token, txHash string) bool {
	l, ok := b.Ledger(token)
	return ok && l.Applied(txHash)
}

// Run applies movements of one token, in the order given, to a private copy of
// the committed ledger. On error the copy is discarded and nothing changes.
func (b *Book) Run(token string, movements []model.ValuedMovement) (*RunResult, error) {
	token = model.NormalizeAddress(token)
	var l *Ledger
	if committed, ok := b.Ledger(token); ok {
		l = committed.clone()
	} else {
		l = NewLedger(b.wallet, token, b.cfg.Method, b.cfg.LongTermHolding)
	}

	res := &RunResult{Token: token, ledger: l}
	for _, m := range movements {
		if err := b.apply(l, m, &res.Outcome); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Commit installs the ledger state of a successful run.
func (b *Book) Commit(res *RunResult) {
	if res == nil || res.ledger == nil {
		return
	}
	b.mu.Lock()
	b.ledgers[res.Token] = res.ledger
	b.mu.Unlock()
}

// Apply splits movements per token, runs and commits each token independently and
// returns the merged events in (timestamp, tx hash, token) order. Failed tokens
// are left unchanged and their errors are joined.
func (b *Book) Apply(movements []model.ValuedMovement) (Outcome, error) {
	groups := GroupByToken(movements)
	tokens := make([]string, 0, len(groups))
	for token := range groups {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	var out Outcome
	var errs []error
	for _, token := range tokens {
		res, err := b.Run(token, groups[token])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		b.Commit(res)
		out.Merge(res.Outcome)
	}
	out.Sort()
	return out, errors.Join(errs...)
}

// GroupByToken splits movements per normalised token, preserving order.
func GroupByToken(movements []model.ValuedMovement) map[string][]model.ValuedMovement {
	groups := make(map[string][]model.ValuedMovement)
	for _, m := range movements {
		token := model.NormalizeAddress(m.Token)
		groups[token] = append(groups[token], m)
	}
	return groups
}

func (b *Book) apply(l *Ledger, m model.ValuedMovement, out *Outcome) error {
	switch b.cfg.IncomeRules.treat(m.Category, m.Inflow()) {
	case treatIncome:
		event, err := l.ReceiveIncome(m)
		if err != nil {
			return err
		}
		out.Income = append(out.Income, event)
	case treatDispose:
		event, err := l.Dispose(m)
		if err != nil {
			return err
		}
		out.Realized = append(out.Realized, event)
	case treatDeposit:
		return l.Deposit(m)
	case treatRelease:
		event, err := l.Release(m)
		if err != nil {
			return err
		}
		if event != nil {
			out.Income = append(out.Income, *event)
		}
	default:
		_, err := l.Acquire(m)
		return err
	}
	return nil
}

// Snapshot captures every committed ledger, tokens in ascending order.
func (b *Book) Snapshot() model.LedgerCheckpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tokens := make([]string, 0, len(b.ledgers))
	for token := range b.ledgers {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	cp := model.LedgerCheckpoint{Wallet: b.wallet, Method: string(b.cfg.Method)}
	for _, token := range tokens {
		cp.Tokens = append(cp.Tokens, b.ledgers[token].state())
	}
	return cp
}

// Restore replaces the committed ledgers with a checkpoint. A checkpoint written
// under another accounting method is rejected with ErrMethodMismatch.
func (b *Book) Restore(cp model.LedgerCheckpoint) error {
	if wallet := model.NormalizeAddress(cp.Wallet); wallet != "" && wallet != b.wallet {
		return fmt.Errorf("checkpoint wallet %s does not match book wallet %s", wallet, b.wallet)
	}
	if cp.Method != "" {
		method, err := ParseMethod(cp.Method)
		if err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		if method != b.cfg.Method {
			return fmt.Errorf("%w: checkpoint uses %s, configured %s", ErrMethodMismatch, method, b.cfg.Method)
		}
	}

	ledgers := make(map[string]*Ledger, len(cp.Tokens))
	for _, st := range cp.Tokens {
		l := ledgerFromState(b.wallet, b.cfg.Method, b.cfg.LongTermHolding, st)
		ledgers[l.token] = l
	}
	b.mu.Lock()
	b.ledgers = ledgers
	b.mu.Unlock()
	return nil
}
