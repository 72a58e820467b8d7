package encoder

// meanPool averages hidden states over the positions the attention mask
// marks as real.
//
// hidden is [batch * seqLen * dim], mask is [batch * seqLen]; the result is
// [batch * dim]. Rows with no real tokens pool to zeros.
func meanPool(hidden []float32, mask []int64, batch, seqLen, dim int) []float32 {
	out := make([]float32, batch*dim)
	for b := 0; b < batch; b++ {
		row := out[b*dim : (b+1)*dim]
		var n float32
		for s := 0; s < seqLen; s++ {
			if mask[b*seqLen+s] != 1 {
				continue
			}
			n++
			tok := hidden[(b*seqLen+s)*dim : (b*seqLen+s+1)*dim]
			for d, v := range tok {
				row[d] += v
			}
		}
		if n == 0 {
			continue
		}
		for d := range row {
			row[d] /= n
		}
	}
	return out
}

// clsPool takes the hidden state of the first position of every row.
func clsPool(hidden []float32, batch, seqLen, dim int) []float32 {
	out := make([]float32, batch*dim)
	for b := 0; b < batch; b++ {
		copy(out[b*dim:(b+1)*dim], hidden[b*seqLen*dim:b*seqLen*dim+dim])
	}
	return out
}

// rows splits a flat [batch * dim] slice into per-row slices.
func rows(flat []float32, batch, dim int) [][]float32 {
	out := make([][]float32, batch)
	for i := range out {
		out[i] = flat[i*dim : (i+1)*dim]
	}
	return out
}
