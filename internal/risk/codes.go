package risk

// Rejection codes attached to a "no order" result. A rejection is an
// expected outcome, not an error, and is always recoverable next bar.
const (
	CodeDrawdownHalt        = "DRAWDOWN_HALT"
	CodeIntradayLossHalt    = "INTRADAY_LOSS_HALT"
	CodeConsecutiveLossHalt = "CONSECUTIVE_LOSS_HALT"
	CodeVarGate             = "VAR_GATE"
	CodePaperGuardrail      = "PAPER_GUARDRAIL"
	CodeCorrelationLimit    = "CORRELATION_LIMIT"
	CodeCryptoExposure      = "CRYPTO_EXPOSURE_LIMIT"
	CodeSectorConcentration = "SECTOR_CONCENTRATION_REJECTED"
	CodeDuplicatePosition   = "DUPLICATE_POSITION"
	CodeMaxPositions        = "MAX_POSITIONS"
	CodePositionSize        = "POSITION_SIZE"
)

// Rejection explains why no order was produced.
type Rejection struct {
	Code   string
	Reason string
}

func reject(code, reason string) *Rejection {
	return &Rejection{Code: code, Reason: reason}
}
