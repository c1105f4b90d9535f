package cart

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/threadline-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/threadline-backend/pkg/errors"
)

// NoSizeSentinel is what the size picker submits before a size is chosen.
const NoSizeSentinel = "SELECT A SIZE"

// NoticeCartEmpty is reported when a removal targets an empty cart.
const NoticeCartEmpty = "Cart is empty"

// ErrSizeRequired is returned by AddLine when neither the request nor the pending
// selection carries a size.
var ErrSizeRequired = pkgerrors.New(pkgerrors.CodeValidation, "Please select a size first")

// Line is one (product, size) entry of a cart.
type Line struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Category  string          `json:"category"`
	ImageURL  string          `json:"image_url"`
	Size      string          `json:"size"`
	Quantity  int             `json:"quantity"`
}

// Subtotal is UnitPrice × Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// State is the serialized session cart. Derived values are never stored.
type State struct {
	Lines          []Line     `json:"lines"`
	Identity       *uuid.UUID `json:"identity,omitempty"`
	PendingSize    string     `json:"pending_size,omitempty"`
	LoadedIdentity *uuid.UUID `json:"loaded_identity,omitempty"`
}

// Snapshot is the read model returned to callers.
type Snapshot struct {
	Lines       []Line          `json:"lines"`
	Total       decimal.Decimal `json:"total"`
	LineCount   int             `json:"line_count"`
	IsEmpty     bool            `json:"is_empty"`
	PendingSize string          `json:"pending_size,omitempty"`
	Notices     []string        `json:"notices,omitempty"`
}

// Store applies cart operations to a State without doing any I/O. Every mutation
// returns the MirrorOp the per-user store needs to follow it.
type Store struct {
	state State
}

// NewStore copies state into a new Store.
func NewStore(state State) *Store {
	s := &Store{state: State{
		Lines:          append([]Line(nil), state.Lines...),
		Identity:       cloneID(state.Identity),
		PendingSize:    state.PendingSize,
		LoadedIdentity: cloneID(state.LoadedIdentity),
	}}
	s.dropEmptyLines()
	return s
}

// State returns a copy of the current state.
func (s *Store) State() State {
	return State{
		Lines:          append([]Line(nil), s.state.Lines...),
		Identity:       cloneID(s.state.Identity),
		PendingSize:    s.state.PendingSize,
		LoadedIdentity: cloneID(s.state.LoadedIdentity),
	}
}

// Identity is the signed-in user the cart currently belongs to, nil for guests.
func (s *Store) Identity() *uuid.UUID {
	return cloneID(s.state.Identity)
}

// SelectSize records the size picked before the add action.
func (s *Store) SelectSize(size string) {
	s.state.PendingSize = normalizeSize(size)
}

// AddLine appends product in size with quantity 1. An empty size falls back to the
// pending selection, which is reset on success.
func (s *Store) AddLine(product models.Product, size string) (MirrorOp, error) {
	resolved := normalizeSize(size)
	if resolved == "" {
		resolved = s.state.PendingSize
	}
	if resolved == "" {
		return MirrorOp{}, ErrSizeRequired
	}
	if s.indexOf(product.ID, resolved) >= 0 {
		return MirrorOp{}, pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("This item in size %s is already in your cart!", resolved))
	}

	line := Line{
		ProductID: product.ID,
		Name:      product.Name,
		UnitPrice: product.Price,
		Category:  product.Category,
		ImageURL:  product.ImageURL,
		Size:      resolved,
		Quantity:  1,
	}
	s.state.Lines = append(s.state.Lines, line)
	s.state.PendingSize = ""
	return MirrorOp{Kind: MirrorUpsertIncrement, Line: line}, nil
}

// RemoveLine drops the (productID, size) line. Removing from an empty cart reports
// NoticeCartEmpty; removing an absent line does nothing.
func (s *Store) RemoveLine(productID uuid.UUID, size string) (MirrorOp, string) {
	if len(s.state.Lines) == 0 {
		return MirrorOp{}, NoticeCartEmpty
	}
	idx := s.indexOf(productID, normalizeSize(size))
	if idx < 0 {
		return MirrorOp{}, ""
	}
	line := s.state.Lines[idx]
	s.state.Lines = append(s.state.Lines[:idx], s.state.Lines[idx+1:]...)
	return MirrorOp{Kind: MirrorDelete, Line: line}, ""
}

// IncreaseQuantity adds one to the matching line.
func (s *Store) IncreaseQuantity(productID uuid.UUID, size string) MirrorOp {
	idx := s.indexOf(productID, normalizeSize(size))
	if idx < 0 {
		return MirrorOp{}
	}
	s.state.Lines[idx].Quantity++
	return MirrorOp{Kind: MirrorSetQuantity, Line: s.state.Lines[idx]}
}

// DecreaseQuantity subtracts one from the matching line while its quantity is above 1.
func (s *Store) DecreaseQuantity(productID uuid.UUID, size string) MirrorOp {
	idx := s.indexOf(productID, normalizeSize(size))
	if idx < 0 {
		return MirrorOp{}
	}
	line := &s.state.Lines[idx]
	if line.Quantity <= 1 {
		return MirrorOp{}
	}
	line.Quantity--
	updated := *line
	if s.dropEmptyLines() {
		return MirrorOp{Kind: MirrorDelete, Line: updated}
	}
	return MirrorOp{Kind: MirrorSetQuantity, Line: updated}
}

// Clear empties the cart and the pending size selection.
func (s *Store) Clear() MirrorOp {
	s.state.Lines = nil
	s.state.PendingSize = ""
	return MirrorOp{Kind: MirrorDeleteAll}
}

// ObserveIdentity records the identity of the current request and reports whether the
// remote cart of that identity still has to be loaded. A nil identity signs the cart
// out: the lines stay and the identity is cleared. The load guard survives sign-out so
// the same identity signing back in on this session is not loaded a second time.
func (s *Store) ObserveIdentity(identity *uuid.UUID) bool {
	if identity == nil {
		s.state.Identity = nil
		return false
	}
	s.state.Identity = cloneID(identity)
	return !s.Reconciled()
}

// Reconciled reports whether the session is signed in and the remote cart of that
// identity has been loaded. No mirror write may reach the remote store before that
// load, or a retried load would read the write back and replace the session lines.
func (s *Store) Reconciled() bool {
	id, loaded := s.state.Identity, s.state.LoadedIdentity
	return id != nil && loaded != nil && *id == *loaded
}

// LoadForIdentity applies the remote cart read for identity. Non-empty remote lines
// replace the local ones; an empty remote cart keeps the local lines. The load guard
// is set either way so the read happens once per identity. It reports whether the
// local lines were replaced.
func (s *Store) LoadForIdentity(identity uuid.UUID, remote []Line) bool {
	if s.state.LoadedIdentity != nil && *s.state.LoadedIdentity == identity {
		return false
	}
	s.state.Identity = cloneID(&identity)
	s.state.LoadedIdentity = cloneID(&identity)

	kept := make([]Line, 0, len(remote))
	for _, line := range remote {
		if line.Quantity > 0 {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		return false
	}
	s.state.Lines = kept
	return true
}

// Total is the sum of UnitPrice × Quantity over all lines.
func (s *Store) Total() decimal.Decimal {
	total := decimal.Zero
	for _, line := range s.state.Lines {
		total = total.Add(line.Subtotal())
	}
	return total
}

// LineCount is the number of distinct lines, not the sum of quantities.
func (s *Store) LineCount() int {
	return len(s.state.Lines)
}

func (s *Store) IsEmpty() bool {
	return len(s.state.Lines) == 0
}

// Snapshot returns the read model of the current state.
func (s *Store) Snapshot() Snapshot {
	lines := append([]Line{}, s.state.Lines...)
	return Snapshot{
		Lines:       lines,
		Total:       s.Total(),
		LineCount:   s.LineCount(),
		IsEmpty:     s.IsEmpty(),
		PendingSize: s.state.PendingSize,
	}
}

func (s *Store) indexOf(productID uuid.UUID, size string) int {
	for i, line := range s.state.Lines {
		if line.ProductID == productID && line.Size == size {
			return i
		}
	}
	return -1
}

func (s *Store) dropEmptyLines() bool {
	kept := s.state.Lines[:0]
	dropped := false
	for _, line := range s.state.Lines {
		if line.Quantity <= 0 {
			dropped = true
			continue
		}
		kept = append(kept, line)
	}
	s.state.Lines = kept
	return dropped
}

func normalizeSize(size string) string {
	size = strings.TrimSpace(size)
	if strings.EqualFold(size, NoSizeSentinel) {
		return ""
	}
	return size
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	clone := *id
	return &clone
}
