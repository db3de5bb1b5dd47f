// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package signal

// MovingAverage returns the centered moving average of values over size
// positions, replicating the edge values past either end.  For an even size
// the window extends one position further left than right.  size <= 1
// returns a copy of values.
func MovingAverage(values []float64, size int) []float64 {
	n := len(values)
	out := make([]float64, n)
	if size <= 1 || n == 0 {
		copy(out, values)
		return out
	}
	left := size / 2
	right := size - 1 - left
	at := func(i int) float64 {
		if i < 0 {
			return values[0]
		}
		if i >= n {
			return values[n-1]
		}
		return values[i]
	}
	var sum float64
	for i := -left; i <= right; i++ {
		sum += at(i)
	}
	out[0] = sum / float64(size)
	for i := 1; i < n; i++ {
		sum += at(i+right) - at(i-1-left)
		out[i] = sum / float64(size)
	}
	return out
}
