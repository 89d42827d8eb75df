package fl

import "errors"

var (
	ErrNoStatistics           = errors.New("no client statistics provided for aggregation")
	ErrStaleRound             = errors.New("statistics belong to a closed round")
	ErrFutureRound            = errors.New("statistics belong to a round that is not open yet")
	ErrAggregationIncomplete  = errors.New("round closed with missing clients")
	ErrUnexpectedClient       = errors.New("client is not expected in this round")
	ErrInvalidStatistics      = errors.New("invalid client statistics")
	ErrUnsupportedContentType = errors.New("unsupported content type")
)
