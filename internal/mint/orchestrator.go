// orchestrator.go - End-to-end issuance lifecycle and the spend path.
//
// Composes the throttle, the blind token protocol, and the proof binder on
// the mint side, and the nullifier set plus gossip on the spend side. A
// batch walks ReceiptsAccumulated -> ThrottleChecked -> Blinded -> Evaluated
// -> Finalized -> ProofBound -> Committed; any failure before Committed
// simply abandons the in-memory batch, nothing was persisted or inserted.

package mint

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"veilmint/internal/gossip"
	"veilmint/internal/nullifier"
	"veilmint/internal/proofbind"
	"veilmint/internal/throttle"
	"veilmint/internal/token"
	"veilmint/internal/voprf"
)

// State is a mint batch's lifecycle position. Committed is terminal.
type State int

const (
	StateReceiptsAccumulated State = iota
	StateThrottleChecked
	StateBlinded
	StateEvaluated
	StateFinalized
	StateProofBound
	StateCommitted
)

func (s State) String() string {
	switch s {
	case StateReceiptsAccumulated:
		return "receipts_accumulated"
	case StateThrottleChecked:
		return "throttle_checked"
	case StateBlinded:
		return "blinded"
	case StateEvaluated:
		return "evaluated"
	case StateFinalized:
		return "finalized"
	case StateProofBound:
		return "proof_bound"
	case StateCommitted:
		return "committed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Evaluator is the minting quorum seen from the client side: one blinded
// element in, one evaluated element out. Network round-trips, quorum
// assembly, and timeouts live behind this interface.
type Evaluator interface {
	Evaluate(ctx context.Context, blinded *voprf.BlindedElement) (*voprf.EvaluatedElement, error)
}

// LocalEvaluator evaluates against a key held in-process. Tests and
// single-operator deployments.
type LocalEvaluator struct {
	Key *voprf.PrivateKey
}

func (e *LocalEvaluator) Evaluate(_ context.Context, blinded *voprf.BlindedElement) (*voprf.EvaluatedElement, error) {
	return voprf.Evaluate(e.Key, blinded)
}

// PublishFunc hands a freshly produced nullifier batch to the network
// layer. May be nil when the node runs detached.
type PublishFunc func(*gossip.Batch)

// Orchestrator drives mint batches and local spends against the shared
// nullifier set.
type Orchestrator struct {
	binder    proofbind.Binder
	evaluator Evaluator
	set       *nullifier.Set
	senderID  [32]byte
	publish   PublishFunc
}

// NewOrchestrator wires the issuance and spend collaborators together.
func NewOrchestrator(binder proofbind.Binder, evaluator Evaluator, set *nullifier.Set, senderID [32]byte, publish PublishFunc) *Orchestrator {
	return &Orchestrator{
		binder:    binder,
		evaluator: evaluator,
		set:       set,
		senderID:  senderID,
		publish:   publish,
	}
}

// Batch is one in-flight mint attempt. Not safe for concurrent use; run
// concurrent batches, not concurrent calls on one batch.
type Batch struct {
	state    State
	receipts []token.Receipt
	epoch    uint64
	amount   uint64
	root     [32]byte

	sessions []session
	tokens   []token.Token
	proof    proofbind.Proof
}

// session is one token's blind protocol run. The state field is the
// unblinding secret and stays inside the batch.
type session struct {
	blinded   *voprf.BlindedElement
	state     *voprf.BlindState
	evaluated *voprf.EvaluatedElement
}

// State returns the batch's lifecycle position.
func (b *Batch) State() State { return b.state }

// Tokens returns the issued tokens. Empty until the batch commits.
func (b *Batch) Tokens() []token.Token {
	if b.state != StateCommitted {
		return nil
	}
	return b.tokens
}

// Record returns the issuance record for a committed batch.
func (b *Batch) Record() *token.IssuanceRecord {
	if b.state != StateCommitted {
		return nil
	}
	return &token.IssuanceRecord{
		Epoch:       b.epoch,
		Amount:      b.amount,
		ReceiptRoot: b.root,
		Proof:       b.proof,
		TokenCount:  len(b.tokens),
	}
}

// NewBatch accumulates service receipts into a mint batch for an epoch.
func (o *Orchestrator) NewBatch(receipts []token.Receipt, epoch uint64) (*Batch, error) {
	if len(receipts) == 0 {
		return nil, fmt.Errorf("mint batch requires at least one receipt")
	}
	return &Batch{
		state:    StateReceiptsAccumulated,
		receipts: receipts,
		epoch:    epoch,
		amount:   token.TotalAmount(receipts),
		root:     token.ReceiptRoot(receipts),
	}, nil
}

// Mint runs a batch through the full issuance lifecycle: throttle check
// (fail closed), blind/evaluate/finalize for tokenCount tokens, proof
// binding, commit. Returns the issuance record on commit. The caller may
// abandon the batch on any error with no cleanup.
func (o *Orchestrator) Mint(ctx context.Context, b *Batch, cr throttle.Ratio, tokenCount int) (*token.IssuanceRecord, error) {
	if b.state != StateReceiptsAccumulated {
		return nil, fmt.Errorf("mint batch in state %s, want %s", b.state, StateReceiptsAccumulated)
	}
	if tokenCount <= 0 {
		return nil, fmt.Errorf("mint batch requires a positive token count")
	}

	if err := throttle.CheckMintable(cr, b.amount); err != nil {
		return nil, err
	}
	b.state = StateThrottleChecked

	b.sessions = make([]session, tokenCount)
	for i := range b.sessions {
		blinded, state, err := voprf.Blind(voprf.NewInput())
		if err != nil {
			return nil, fmt.Errorf("blind failed: %w", err)
		}
		b.sessions[i] = session{blinded: blinded, state: state}
	}
	b.state = StateBlinded

	// Each session is private, unshared data; the quorum round-trips are
	// the slow part, so they fan out.
	g, gctx := errgroup.WithContext(ctx)
	for i := range b.sessions {
		s := &b.sessions[i]
		g.Go(func() error {
			evaluated, err := o.evaluator.Evaluate(gctx, s.blinded)
			if err != nil {
				return fmt.Errorf("quorum evaluation failed: %w", err)
			}
			s.evaluated = evaluated
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	b.state = StateEvaluated

	b.tokens = make([]token.Token, tokenCount)
	for i := range b.sessions {
		out, err := voprf.Finalize(b.sessions[i].state, b.sessions[i].evaluated)
		if err != nil {
			return nil, fmt.Errorf("finalize failed: %w", err)
		}
		tok, err := token.NewToken(out)
		if err != nil {
			return nil, err
		}
		b.tokens[i] = tok
	}
	b.state = StateFinalized

	proof, err := o.binder.Generate(proofbind.ProofInput{
		MerkleRoot: b.root,
		Amount:     b.amount,
		Epoch:      b.epoch,
	})
	if err != nil {
		return nil, fmt.Errorf("proof binding failed: %w", err)
	}
	b.proof = proof
	b.state = StateProofBound

	b.state = StateCommitted
	return b.Record(), nil
}

// Spend nullifies a token locally and hands the nullifier to gossip so
// every other replica rejects the same spend. The check-then-insert is one
// critical section inside the set; replaying the spend fails.
func (o *Orchestrator) Spend(t token.Token, epoch uint64) (nullifier.Nullifier, error) {
	n := t.Nullifier()
	if err := o.set.InsertChecked(n); err != nil {
		return n, err
	}
	if o.publish != nil {
		o.publish(&gossip.Batch{
			Nullifiers: []nullifier.Nullifier{n},
			Epoch:      epoch,
			SenderID:   o.senderID,
		})
	}
	return n, nil
}
