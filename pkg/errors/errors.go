package errors

import (
	"errors"
	"fmt"
)

// Domain error types for business logic

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrUnavailable indicates a service is unavailable
	ErrUnavailable = errors.New("service unavailable")
)

// Quote feed errors

var (
	// ErrMissingCredentials indicates the feed credentials are not configured yet
	ErrMissingCredentials = errors.New("feed credentials not configured")

	// ErrEmptySymbolSet indicates no symbols are configured for subscription
	ErrEmptySymbolSet = errors.New("no symbols configured")

	// ErrFeedNotConnected indicates the quote feed session is not established
	ErrFeedNotConnected = errors.New("quote feed not connected")

	// ErrSubscribeFailed indicates a symbol subscribe/unsubscribe call failed
	ErrSubscribeFailed = errors.New("symbol subscription failed")

	// ErrStreamStopped indicates the stream manager has been stopped
	ErrStreamStopped = errors.New("quote stream stopped")
)

// Risk and trading errors

var (
	// ErrTradingDisabled indicates trading is switched off in risk settings
	ErrTradingDisabled = errors.New("trading disabled by risk settings")

	// ErrEmergencyStop indicates the emergency stop flag is set
	ErrEmergencyStop = errors.New("emergency stop active")

	// ErrDailyTradeLimit indicates the daily trade count cap was reached
	ErrDailyTradeLimit = errors.New("daily trade limit reached")

	// ErrDailyLossLimit indicates the daily realized loss cap was exceeded
	ErrDailyLossLimit = errors.New("daily loss limit exceeded")

	// ErrMaxExposure indicates the total exposure cap would be exceeded
	ErrMaxExposure = errors.New("maximum exposure limit reached")

	// ErrMarketClosed indicates the symbol is outside its trading-hour window
	ErrMarketClosed = errors.New("outside trading hours")

	// ErrSymbolExcluded indicates the symbol is on the risk exclusion list
	ErrSymbolExcluded = errors.New("symbol excluded by risk settings")

	// ErrPositionExists indicates an open position already holds the
	// (strategy, symbol) key
	ErrPositionExists = errors.New("open position already exists for strategy and symbol")

	// ErrPositionNotFound indicates no position matches the key
	ErrPositionNotFound = errors.New("position not found")

	// ErrMaxPositions indicates the strategy reached its max open positions
	ErrMaxPositions = errors.New("strategy position limit reached")

	// ErrStrategyCooldown indicates the strategy is inside its cooldown window
	ErrStrategyCooldown = errors.New("strategy in cooldown")

	// ErrOrderRejected indicates the broker rejected an order
	ErrOrderRejected = errors.New("order rejected by broker")
)

// Engine lifecycle errors

var (
	// ErrEngineRunning indicates a start was attempted while already running
	ErrEngineRunning = errors.New("engine already running")

	// ErrEngineStopped indicates an operation requires a running engine
	ErrEngineStopped = errors.New("engine not running")
)

// Helper functions

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
