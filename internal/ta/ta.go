package ta

import "math"

func SMA(closes []float64, n int) float64 {
	if len(closes) < n || n <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - n; i < len(closes); i++ {
		sum += closes[i]
	}
	return sum / float64(n)
}

// EMASeries returns the exponential moving average for every index. Entries
// before the n-th value are NaN; the seed is the SMA of the first n values.
func EMASeries(vals []float64, n int) []float64 {
	out := make([]float64, len(vals))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(vals) < n || n <= 0 {
		return out
	}
	k := 2.0 / float64(n+1)
	seed := 0.0
	for i := 0; i < n; i++ {
		seed += vals[i]
	}
	out[n-1] = seed / float64(n)
	for i := n; i < len(vals); i++ {
		out[i] = vals[i]*k + out[i-1]*(1-k)
	}
	return out
}

func EMA(vals []float64, n int) float64 {
	s := EMASeries(vals, n)
	if len(s) == 0 {
		return math.NaN()
	}
	return s[len(s)-1]
}

func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 || period <= 0 {
		return math.NaN()
	}
	gain, loss := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		return 100.0
	}
	rs := (gain / float64(period)) / (loss / float64(period))
	return 100.0 - (100.0 / (1.0 + rs))
}

// MACD returns the last MACD line, signal line and histogram.
func MACD(closes []float64, fast, slow, signal int) (line, sig, hist float64) {
	if len(closes) < slow+signal {
		return math.NaN(), math.NaN(), math.NaN()
	}
	ef := EMASeries(closes, fast)
	es := EMASeries(closes, slow)
	macd := make([]float64, 0, len(closes)-slow+1)
	for i := slow - 1; i < len(closes); i++ {
		macd = append(macd, ef[i]-es[i])
	}
	line = macd[len(macd)-1]
	sig = EMA(macd, signal)
	return line, sig, line - sig
}

func StdDev(vals []float64, n int) float64 {
	if len(vals) < n || n <= 0 {
		return math.NaN()
	}
	m := SMA(vals, n)
	s := 0.0
	for i := len(vals) - n; i < len(vals); i++ {
		d := vals[i] - m
		s += d * d
	}
	return math.Sqrt(s / float64(n))
}

func Bollinger(closes []float64, n int, k float64) (mid, up, low float64) {
	mid = SMA(closes, n)
	sd := StdDev(closes, n)
	up = mid + k*sd
	low = mid - k*sd
	return
}

func trueRange(high, low, prevClose float64) float64 {
	return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
}

func ATR(highs, lows, closes []float64, period int) float64 {
	if len(highs) != len(lows) || len(lows) != len(closes) {
		return math.NaN()
	}
	if len(closes) < period+1 || period <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		sum += trueRange(highs[i], lows[i], closes[i-1])
	}
	return sum / float64(period)
}

// ADX computes Wilder's average directional index together with +DI and -DI.
func ADX(highs, lows, closes []float64, period int) (adx, plusDI, minusDI float64) {
	n := len(closes)
	if len(highs) != n || len(lows) != n || period <= 0 || n < 2*period+1 {
		return math.NaN(), math.NaN(), math.NaN()
	}

	var trS, pdmS, mdmS float64
	dx := make([]float64, 0, n)
	for i := 1; i < n; i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		pdm, mdm := 0.0, 0.0
		if up > down && up > 0 {
			pdm = up
		}
		if down > up && down > 0 {
			mdm = down
		}
		tr := trueRange(highs[i], lows[i], closes[i-1])

		if i <= period {
			trS += tr
			pdmS += pdm
			mdmS += mdm
			if i < period {
				continue
			}
		} else {
			trS = trS - trS/float64(period) + tr
			pdmS = pdmS - pdmS/float64(period) + pdm
			mdmS = mdmS - mdmS/float64(period) + mdm
		}

		if trS == 0 {
			plusDI, minusDI = 0, 0
		} else {
			plusDI = 100 * pdmS / trS
			minusDI = 100 * mdmS / trS
		}
		if sum := plusDI + minusDI; sum > 0 {
			dx = append(dx, 100*math.Abs(plusDI-minusDI)/sum)
		} else {
			dx = append(dx, 0)
		}
	}

	adx = 0
	for i := 0; i < period; i++ {
		adx += dx[i]
	}
	adx /= float64(period)
	for i := period; i < len(dx); i++ {
		adx = (adx*float64(period-1) + dx[i]) / float64(period)
	}
	return adx, plusDI, minusDI
}
