package chainstate

import "errors"

// Sentinel errors for chain state view operations, per spec.md §7.
var (
	// ErrInactiveChain is returned by EnsureIsActive when the chain lacks a
	// manager with an owner, a current epoch in its own committees, or an
	// admin id.
	ErrInactiveChain = errors.New("chainstate: chain is not active")

	// ErrMissingEarlierBlocks is returned when a proposed/confirmed block's
	// height is ahead of next_block_height.
	ErrMissingEarlierBlocks = errors.New("chainstate: missing earlier blocks")

	// ErrInvalidBlockChaining is returned when a block's previous_block_hash
	// does not match the chain's tip.
	ErrInvalidBlockChaining = errors.New("chainstate: invalid block chaining")

	// ErrFastBlockUsingOracles is returned when a fast-round block's
	// execution trace recorded any oracle response.
	ErrFastBlockUsingOracles = errors.New("chainstate: fast round block used oracles")

	// ErrIncorrectStateHash is returned when re-execution of a confirmed
	// block does not reproduce its recorded state hash.
	ErrIncorrectStateHash = errors.New("chainstate: incorrect state hash")

	// ErrIncorrectMessages is returned when re-execution does not reproduce
	// the recorded outgoing messages.
	ErrIncorrectMessages = errors.New("chainstate: incorrect messages")

	// ErrIncorrectMessageCounts is returned when re-execution does not
	// reproduce the recorded per-operation message counts.
	ErrIncorrectMessageCounts = errors.New("chainstate: incorrect message counts")

	// ErrDuplicateBlock is returned when a proposed/confirmed block matches
	// the already-committed block at its height; callers should treat this
	// as success (spec.md §7's idempotence contract), not as a failure.
	ErrDuplicateBlock = errors.New("chainstate: duplicate block")
)
