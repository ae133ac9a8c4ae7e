package consensus

import "errors"

var (
	// ErrEpochMismatch is returned when a proposal's epoch has no known
	// committee on the target chain.
	ErrEpochMismatch = errors.New("consensus: unknown epoch")
	// ErrSignerNotAuthorized is returned when a proposal's signer is not an
	// owner of the chain.
	ErrSignerNotAuthorized = errors.New("consensus: signer is not a chain owner")
	// ErrPreviousBlockMismatch is returned when a proposal's previous-block
	// hash does not match the chain's current tip.
	ErrPreviousBlockMismatch = errors.New("consensus: previous block hash does not match tip")
	// ErrTimestampOutOfRange is returned when a proposal's timestamp lies
	// more than the grace period ahead of the local clock.
	ErrTimestampOutOfRange = errors.New("consensus: proposal timestamp outside grace period")
	// ErrWrongCertificateKind is returned when a certificate is presented to
	// a handler that only accepts a different CertificateValueKind.
	ErrWrongCertificateKind = errors.New("consensus: unexpected certificate kind")
	// ErrDoubleVote is returned when signing would violate the
	// never-sign-two-validated-block-votes-at-the-same-round invariant.
	ErrDoubleVote = errors.New("consensus: refusing to double-vote at this round")
	// ErrStaleCertificate is returned when a validated certificate is not
	// newer than the already-locked certificate.
	ErrStaleCertificate = errors.New("consensus: certificate is not newer than the current lock")
	// ErrOutcomeMismatch is returned when re-executing a confirmed
	// certificate's block produces a different outcome than the one
	// embedded in the certificate.
	ErrOutcomeMismatch = errors.New("consensus: recomputed outcome does not match certificate")
)
