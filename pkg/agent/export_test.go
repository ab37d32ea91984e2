package agent

var (
	IsTokenLimitError = isTokenLimitError
	CompressHistory   = compressHistory
)
