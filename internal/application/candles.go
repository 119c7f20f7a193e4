package application

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quantgate/quantgate/internal/backtest"
	"github.com/quantgate/quantgate/internal/domain"
)

// FileCandleFetcher reads candle history from JSON files on disk, one
// file per symbol and timeframe: <dir>/<SYMBOL>_<timeframe>.json holding
// a JSON array of candles. Live exchange feeds plug in through the same
// CandleFetcher contract.
func FileCandleFetcher(dir string) backtest.CandleFetcher {
	return func(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
		name := fmt.Sprintf("%s_%s.json", strings.ToUpper(symbol), timeframe)
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read candle file %s: %w", name, err)
		}

		var candles []domain.Candle
		if err := json.Unmarshal(data, &candles); err != nil {
			return nil, fmt.Errorf("malformed candle file %s: %w", name, err)
		}

		if limit > 0 && len(candles) > limit {
			candles = candles[len(candles)-limit:]
		}
		return candles, nil
	}
}
