package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"taxScope/internal/model"
)

// Ledger tracks the lots of one token held by one wallet. Lots are kept in
// acquisition order and are never removed; a fully consumed lot stays with zero
// remaining quantity. Lots deposited into staking or locking contracts move to a
// custody pocket keyed by that contract and keep their identity and basis.
//
// A Ledger is not safe for concurrent use.
type Ledger struct {
	wallet   string
	token    string
	method   Method
	longTerm time.Duration

	nextID  int
	lots    []model.Lot
	custody map[string][]model.Lot

	cursorUnix int64
	cursorHash string
	applied    map[string]struct{}
	order      []string
}

// NewLedger returns an empty ledger. A zero longTerm disables holding-period tagging.
func NewLedger(wallet, token string, method Method, longTerm time.Duration) *Ledger {
	return &Ledger{
		wallet:   model.NormalizeAddress(wallet),
		token:    model.NormalizeAddress(token),
		method:   method,
		longTerm: longTerm,
		nextID:   1,
		custody:  make(map[string][]model.Lot),
		applied:  make(map[string]struct{}),
	}
}

func (l *Ledger) Token() string  { return l.token }
func (l *Ledger) Method() Method { return l.method }

// Applied reports whether a movement of txHash was already applied.
func (l *Ledger) Applied(txHash string) bool {
	_, ok := l.applied[model.NormalizeAddress(txHash)]
	return ok
}

// Lots returns a copy of every lot in acquisition order, exhausted ones included.
func (l *Ledger) Lots() []model.Lot {
	return append([]model.Lot(nil), l.lots...)
}

// Custody returns a copy of the lots held by counterparty.
func (l *Ledger) Custody(counterparty string) []model.Lot {
	return append([]model.Lot(nil), l.custody[model.NormalizeAddress(counterparty)]...)
}

// Held is the remaining quantity across lots in the wallet.
func (l *Ledger) Held() decimal.Decimal {
	return total(l.lots)
}

// InCustody is the remaining quantity across every custody pocket.
func (l *Ledger) InCustody() decimal.Decimal {
	sum := decimal.Zero
	for _, pocket := range l.custody {
		sum = sum.Add(total(pocket))
	}
	return sum
}

// Acquire opens a lot for an inflow at its USD price.
func (l *Ledger) Acquire(m model.ValuedMovement) (model.Lot, error) {
	if err := l.admit(m); err != nil {
		return model.Lot{}, err
	}
	lot := l.open(m, m.Quantity())
	l.mark(m)
	return lot, nil
}

// ReceiveIncome records an inflow as ordinary income and seeds a lot at the same
// value so a later disposal has a basis.
func (l *Ledger) ReceiveIncome(m model.ValuedMovement) (model.IncomeEvent, error) {
	if err := l.admit(m); err != nil {
		return model.IncomeEvent{}, err
	}
	qty := m.Quantity()
	event := l.income(m, qty)
	l.open(m, qty)
	l.mark(m)
	return event, nil
}

// Dispose consumes lots in method order and returns one realized event covering
// every lot drawn. If the held lots cannot cover the disposal the ledger is left
// unchanged and the error is an *InsufficientLotError.
func (l *Ledger) Dispose(m model.ValuedMovement) (model.RealizedEvent, error) {
	if err := l.admit(m); err != nil {
		return model.RealizedEvent{}, err
	}
	qty := m.Quantity()
	if err := l.ensure(m, l.lots, qty); err != nil {
		return model.RealizedEvent{}, err
	}

	pieces := l.take(l.lots, qty)
	consumed := make([]model.LotConsumption, 0, len(pieces))
	cost := decimal.Zero
	for _, piece := range pieces {
		basis := piece.RemainingQuantity.Mul(piece.CostBasisPerUnit)
		cost = cost.Add(basis)
		consumed = append(consumed, model.LotConsumption{
			LotID:        piece.ID,
			AcquiredAt:   piece.AcquiredAt,
			Quantity:     piece.RemainingQuantity,
			CostBasisUSD: basis,
		})
	}
	proceeds := m.ValueUSD.Abs()

	event := model.RealizedEvent{
		Wallet:        l.wallet,
		Token:         l.token,
		Symbol:        m.Symbol,
		TxHash:        m.TxHash,
		DisposedAt:    m.Timestamp.UTC(),
		Quantity:      qty,
		ProceedsUSD:   proceeds,
		CostBasisUSD:  cost,
		GainUSD:       proceeds.Sub(cost),
		HoldingPeriod: l.holding(m.Timestamp, pieces),
		Category:      m.Category,
		Tag:           model.TagCapital,
		Lots:          consumed,
	}
	l.mark(m)
	return event, nil
}

// Deposit moves lots into the custody pocket of m.Counterparty without realizing
// a gain.
func (l *Ledger) Deposit(m model.ValuedMovement) error {
	if err := l.admit(m); err != nil {
		return err
	}
	qty := m.Quantity()
	if err := l.ensure(m, l.lots, qty); err != nil {
		return err
	}
	key := model.NormalizeAddress(m.Counterparty)
	l.custody[key] = mergeLots(l.custody[key], l.take(l.lots, qty))
	l.mark(m)
	return nil
}

// Release returns lots from the custody pocket of m.Counterparty. Any quantity
// beyond what the pocket holds is income received from the contract.
func (l *Ledger) Release(m model.ValuedMovement) (*model.IncomeEvent, error) {
	if err := l.admit(m); err != nil {
		return nil, err
	}
	qty := m.Quantity()
	key := model.NormalizeAddress(m.Counterparty)
	pocket := l.custody[key]

	fromPocket := decimal.Min(qty, total(pocket))
	if fromPocket.IsPositive() {
		pieces := l.take(pocket, fromPocket)
		l.lots = mergeLots(l.lots, pieces)
		l.custody[key] = prune(pocket)
	}
	if len(l.custody[key]) == 0 {
		delete(l.custody, key)
	}

	var event *model.IncomeEvent
	if excess := qty.Sub(fromPocket); excess.IsPositive() {
		ev := l.income(m, excess)
		event = &ev
		l.open(m, excess)
	}
	l.mark(m)
	return event, nil
}

func (l *Ledger) admit(m model.ValuedMovement) error {
	hash := model.NormalizeAddress(m.TxHash)
	if model.NormalizeAddress(m.Token) != l.token {
		return &MovementError{Token: l.token, TxHash: hash, Err: ErrWrongToken}
	}
	if _, ok := l.applied[hash]; ok {
		return &MovementError{Token: l.token, TxHash: hash, Err: ErrDuplicateMovement}
	}
	if len(l.order) > 0 {
		ts := m.Timestamp.Unix()
		if ts < l.cursorUnix || (ts == l.cursorUnix && hash < l.cursorHash) {
			return &MovementError{Token: l.token, TxHash: hash, Err: ErrOutOfOrder}
		}
	}
	return nil
}

func (l *Ledger) mark(m model.ValuedMovement) {
	hash := model.NormalizeAddress(m.TxHash)
	l.cursorUnix = m.Timestamp.Unix()
	l.cursorHash = hash
	l.applied[hash] = struct{}{}
	l.order = append(l.order, hash)
}

func (l *Ledger) ensure(m model.ValuedMovement, lots []model.Lot, qty decimal.Decimal) error {
	available := total(lots)
	if qty.GreaterThan(available) {
		return &MovementError{
			Token:  l.token,
			TxHash: model.NormalizeAddress(m.TxHash),
			Err: &InsufficientLotError{
				Wallet:    l.wallet,
				Token:     l.token,
				TxHash:    m.TxHash,
				Requested: qty,
				Available: available,
			},
		}
	}
	return nil
}

func (l *Ledger) open(m model.ValuedMovement, qty decimal.Decimal) model.Lot {
	if !qty.IsPositive() {
		return model.Lot{}
	}
	lot := model.Lot{
		ID:                l.nextID,
		Token:             l.token,
		AcquiredAt:        m.Timestamp.UTC(),
		TxHash:            m.TxHash,
		Category:          m.Category,
		OriginalQuantity:  qty,
		RemainingQuantity: qty,
		CostBasisPerUnit:  m.PriceUSD,
	}
	l.nextID++
	l.lots = append(l.lots, lot)
	return lot
}

func (l *Ledger) income(m model.ValuedMovement, qty decimal.Decimal) model.IncomeEvent {
	return model.IncomeEvent{
		Wallet:     l.wallet,
		Token:      l.token,
		Symbol:     m.Symbol,
		TxHash:     m.TxHash,
		ReceivedAt: m.Timestamp.UTC(),
		Quantity:   qty,
		PriceUSD:   m.PriceUSD,
		ValueUSD:   qty.Mul(m.PriceUSD),
		Category:   m.Category,
		Tag:        model.TagIncome,
	}
}

// take decrements lots in method order until qty is covered and returns the
// consumed pieces, each carrying the quantity drawn as RemainingQuantity.
// Callers check sufficiency first.
func (l *Ledger) take(lots []model.Lot, qty decimal.Decimal) []model.Lot {
	var pieces []model.Lot
	left := qty
	for i := 0; i < len(lots) && left.IsPositive(); i++ {
		idx := i
		if l.method == LIFO {
			idx = len(lots) - 1 - i
		}
		if lots[idx].Exhausted() {
			continue
		}
		draw := decimal.Min(lots[idx].RemainingQuantity, left)
		lots[idx].RemainingQuantity = lots[idx].RemainingQuantity.Sub(draw)
		left = left.Sub(draw)

		piece := lots[idx]
		piece.RemainingQuantity = draw
		pieces = append(pieces, piece)
	}
	return pieces
}

func (l *Ledger) holding(at time.Time, pieces []model.Lot) model.HoldingPeriod {
	if l.longTerm <= 0 || len(pieces) == 0 {
		return model.HoldingNone
	}
	var short, long bool
	for _, piece := range pieces {
		if at.Sub(piece.AcquiredAt) >= l.longTerm {
			long = true
		} else {
			short = true
		}
	}
	switch {
	case short && long:
		return model.HoldingMixed
	case long:
		return model.HoldingLong
	default:
		return model.HoldingShort
	}
}

func (l *Ledger) clone() *Ledger {
	c := *l
	c.lots = append([]model.Lot(nil), l.lots...)
	c.custody = make(map[string][]model.Lot, len(l.custody))
	for k, pocket := range l.custody {
		c.custody[k] = append([]model.Lot(nil), pocket...)
	}
	c.applied = make(map[string]struct{}, len(l.applied))
	for k := range l.applied {
		c.applied[k] = struct{}{}
	}
	c.order = append([]string(nil), l.order...)
	return &c
}

func (l *Ledger) state() model.TokenLedgerState {
	st := model.TokenLedgerState{
		Token:      l.token,
		NextLotID:  l.nextID,
		CursorUnix: l.cursorUnix,
		CursorHash: l.cursorHash,
		Applied:    append([]string(nil), l.order...),
		Lots:       append([]model.Lot(nil), l.lots...),
	}
	keys := make([]string, 0, len(l.custody))
	for k := range l.custody {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		st.Custody = append(st.Custody, model.CustodyPocket{
			Counterparty: k,
			Lots:         append([]model.Lot(nil), l.custody[k]...),
		})
	}
	return st
}

func ledgerFromState(wallet string, method Method, longTerm time.Duration, st model.TokenLedgerState) *Ledger {
	l := NewLedger(wallet, st.Token, method, longTerm)
	if st.NextLotID > 0 {
		l.nextID = st.NextLotID
	}
	l.cursorUnix = st.CursorUnix
	l.cursorHash = st.CursorHash
	l.lots = append([]model.Lot(nil), st.Lots...)
	for _, pocket := range st.Custody {
		l.custody[model.NormalizeAddress(pocket.Counterparty)] = append([]model.Lot(nil), pocket.Lots...)
	}
	for _, hash := range st.Applied {
		hash = model.NormalizeAddress(hash)
		l.applied[hash] = struct{}{}
		l.order = append(l.order, hash)
	}
	return l
}

func total(lots []model.Lot) decimal.Decimal {
	sum := decimal.Zero
	for _, lot := range lots {
		sum = sum.Add(lot.RemainingQuantity)
	}
	return sum
}

// mergeLots adds pieces back into lots by lot ID, keeping ascending ID order.
func mergeLots(lots []model.Lot, pieces []model.Lot) []model.Lot {
	for _, piece := range pieces {
		idx := sort.Search(len(lots), func(i int) bool { return lots[i].ID >= piece.ID })
		if idx < len(lots) && lots[idx].ID == piece.ID {
			lots[idx].RemainingQuantity = lots[idx].RemainingQuantity.Add(piece.RemainingQuantity)
			continue
		}
		lots = append(lots, model.Lot{})
		copy(lots[idx+1:], lots[idx:])
		lots[idx] = piece
	}
	return lots
}

func prune(lots []model.Lot) []model.Lot {
	out := lots[:0]
	for _, lot := range lots {
		if !lot.Exhausted() {
			out = append(out, lot)
		}
	}
	return out
}
