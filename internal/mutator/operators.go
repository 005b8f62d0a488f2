package mutator

import (
	"github.com/fluxfuzzer/edgefuzz/internal/bytesops"
	"github.com/fluxfuzzer/edgefuzz/internal/sampler"
)

// Interesting value tables, AFL-style boundary values most likely to
// trip over/underflow or off-by-one bugs in the target.
var (
	interesting8 = []byte{1, 16, 32, 64, 100, 127, 128, 129, 255, 1}

	interesting16 = []uint16{0, 128, 255, 256, 512, 1000, 1024, 4096, 32767, 65535}

	interesting32 = []uint32{0, 1, 32768, 65535, 65536, 100663045, 2147483647, 4294967295}
)

// --- remove-range ---

type removeRange struct {
	start, length *sampler.AdaptiveRange
}

func newRemoveRange(nonAdaptive bool) *removeRange {
	return &removeRange{
		start:  newARange(nonAdaptive),
		length: newARange(nonAdaptive),
	}
}

func (o *removeRange) Name() string { return "remove-range" }

func (o *removeRange) Apply(buf []byte, _ CorpusView) ([]byte, error) {
	if len(buf) < 2 {
		return nil, ErrOutOfData
	}
	start, err := o.start.Sample(0, len(buf)-2)
	if err != nil {
		return nil, err
	}
	length, err := o.length.Sample(1, len(buf)-start)
	if err != nil {
		return nil, err
	}
	return bytesops.Remove(buf, start, length)
}

func (o *removeRange) Update(success bool) {
	o.start.Update(success)
	o.length.Update(success)
}

// --- insert-range ---

type insertRange struct {
	maxLen      int
	start, size *sampler.AdaptiveRange
}

func newInsertRange(maxInsertLength int, nonAdaptive bool) *insertRange {
	if maxInsertLength < 1 {
		maxInsertLength = 1
	}
	return &insertRange{
		maxLen: maxInsertLength,
		start:  newARange(nonAdaptive),
		size:   newARange(nonAdaptive),
	}
}

func (o *insertRange) Name() string { return "insert-range" }

func (o *insertRange) Apply(buf []byte, _ CorpusView) ([]byte, error) {
	size, err := o.size.Sample(1, o.maxLen)
	if err != nil {
		return nil, err
	}
	start, err := o.start.Sample(0, len(buf))
	if err != nil {
		return nil, err
	}
	return bytesops.Insert(buf, start, secureRandomBytes(size))
}

func (o *insertRange) Update(success bool) {
	o.start.Update(success)
	o.size.Update(success)
}

// --- duplicate-range ---

type duplicateRange struct {
	src, dst, length *sampler.AdaptiveRange
}

func newDuplicateRange(nonAdaptive bool) *duplicateRange {
	return &duplicateRange{
		src:    newARange(nonAdaptive),
		dst:    newARange(nonAdaptive),
		length: newARange(nonAdaptive),
	}
}

func (o *duplicateRange) Name() string { return "duplicate-range" }

func (o *duplicateRange) Apply(buf []byte, _ CorpusView) ([]byte, error) {
	if len(buf) < 2 {
		return nil, ErrOutOfData
	}
	length, err := o.length.Sample(1, len(buf))
	if err != nil {
		return nil, err
	}
	src, err := o.src.Sample(0, len(buf)-length)
	if err != nil {
		return nil, err
	}
	dst, err := o.dst.Sample(0, len(buf))
	if err != nil {
		return nil, err
	}
	return bytesops.Insert(buf, dst, buf[src:src+length])
}

func (o *duplicateRange) Update(success bool) {
	o.src.Update(success)
	o.dst.Update(success)
	o.length.Update(success)
}

// --- copy-range ---

type copyRange struct {
	src, dst, length *sampler.AdaptiveRange
}

func newCopyRange(nonAdaptive bool) *copyRange {
	return &copyRange{
		src:    newARange(nonAdaptive),
		dst:    newARange(nonAdaptive),
		length: newARange(nonAdaptive),
	}
}

func (o *copyRange) Name() string { return "copy-range" }

func (o *copyRange) Apply(buf []byte, _ CorpusView) ([]byte, error) {
	if len(buf) < 2 {
		return nil, ErrOutOfData
	}
	length, err := o.length.Sample(1, len(buf))
	if err != nil {
		return nil, err
	}
	src, err := o.src.Sample(0, len(buf)-length)
	if err != nil {
		return nil, err
	}
	dst, err := o.dst.Sample(0, len(buf)-length)
	if err != nil {
		return nil, err
	}
	if err := bytesops.Copy(buf, src, dst, length); err != nil {
		return nil, err
	}
	return buf, nil
}

func (o *copyRange) Update(success bool) {
	o.src.Update(success)
	o.dst.Update(success)
	o.length.Update(success)
}

// --- bit-flip ---

type bitFlip struct {
	pos, bit *sampler.AdaptiveRange
}

func newBitFlip(nonAdaptive bool) *bitFlip {
	return &bitFlip{pos: newARange(nonAdaptive), bit: newARange(nonAdaptive)}
}

func (o *bitFlip) Name() string { return "bit-flip" }

func (o *bitFlip) Apply(buf []byte, _ CorpusView) ([]byte, error) {
	if len(buf) < 1 {
		return nil, ErrOutOfData
	}
	pos, err := o.pos.SampleMax(len(buf) - 1)
	if err != nil {
		return nil, err
	}
	bit, err := o.bit.SampleMax(7)
	if err != nil {
		return nil, err
	}
	buf[pos] ^= 1 << uint(bit)
	return buf, nil
}

func (o *bitFlip) Update(success bool) {
	o.pos.Update(success)
	o.bit.Update(success)
}

// --- byte-xor ---

type byteXor struct {
	pos *sampler.AdaptiveRange
}

func newByteXor(nonAdaptive bool) *byteXor {
	return &byteXor{pos: newARange(nonAdaptive)}
}

func (o *byteXor) Name() string { return "byte-xor" }

func (o *byteXor) Apply(buf []byte, _ CorpusView) ([]byte, error) {
	if len(buf) < 1 {
		return nil, ErrOutOfData
	}
	pos, err := o.pos.SampleMax(len(buf) - 1)
	if err != nil {
		return nil, err
	}
	value := secureRandomInt(255) + 1 // nonzero
	buf[pos] ^= byte(value)
	return buf, nil
}

func (o *byteXor) Update(success bool) {
	o.pos.Update(success)
}

// --- swap-two-bytes ---

type swapTwoBytes struct {
	a, b *sampler.AdaptiveRange
}

func newSwapTwoBytes(nonAdaptive bool) *swapTwoBytes {
	return &swapTwoBytes{a: newARange(nonAdaptive), b: newARange(nonAdaptive)}
}

func (o *swapTwoBytes) Name() string { return "swap-two-bytes" }

func (o *swapTwoBytes) Apply(buf []byte, _ CorpusView) ([]byte, error) {
	if len(buf) < 2 {
		return nil, ErrOutOfData
	}
	i, err := o.a.SampleMax(len(buf) - 1)
	if err != nil {
		return nil, err
	}
	j, err := o.b.SampleMax(len(buf) - 1)
	if err != nil {
		return nil, err
	}
	buf[i], buf[j] = buf[j], buf[i]
	return buf, nil
}

func (o *swapTwoBytes) Update(success bool) {
	o.a.Update(success)
	o.b.Update(success)
}

// --- add-byte ---

type addByte struct {
	pos *sampler.AdaptiveRange
}

func newAddByte(nonAdaptive bool) *addByte {
	return &addByte{pos: newARange(nonAdaptive)}
}

func (o *addByte) Name() string { return "add-byte" }

func (o *addByte) Apply(buf []byte, _ CorpusView) ([]byte, error) {
	if len(buf) < 1 {
		return nil, ErrOutOfData
	}
	pos, err := o.pos.SampleMax(len(buf) - 1)
	if err != nil {
		return nil, err
	}
	delta := byte(secureRandomInt(256))
	buf[pos] += delta
	return buf, nil
}

func (o *addByte) Update(success bool) {
	o.pos.Update(success)
}

// addMultiByte implements add-u16/32/64: add a random width-bit value to
// width/8 consecutive bytes, byte-wise modulo 256 and without carry
// propagation between bytes (a deliberately weakened emulation of
// multi-byte arithmetic, kept for compatibility).
type addMultiByte struct {
	width int // bytes
	pos   *sampler.AdaptiveRange
}

func newAddMultiByte(width int, nonAdaptive bool) *addMultiByte {
	return &addMultiByte{width: width, pos: newARange(nonAdaptive)}
}

func (o *addMultiByte) Apply(buf []byte, _ CorpusView) ([]byte, error) {
	if len(buf) < o.width {
		return nil, ErrOutOfData
	}
	pos, err := o.pos.SampleMax(len(buf) - o.width)
	if err != nil {
		return nil, err
	}
	addend := secureRandomBytes(o.width)
	if secureRandomInt(2) == 0 {
		for i, j := 0, len(addend)-1; i < j; i, j = i+1, j-1 {
			addend[i], addend[j] = addend[j], addend[i]
		}
	}
	for i := 0; i < o.width; i++ {
		buf[pos+i] += addend[i]
	}
	return buf, nil
}

func (o *addMultiByte) Update(success bool) {
	o.pos.Update(success)
}

func newAddU16(nonAdaptive bool) Operator { return &namedOp{&addMultiByte{width: 2, pos: newARange(nonAdaptive)}, "add-u16"} }
func newAddU32(nonAdaptive bool) Operator { return &namedOp{&addMultiByte{width: 4, pos: newARange(nonAdaptive)}, "add-u32"} }
func newAddU64(nonAdaptive bool) Operator { return &namedOp{&addMultiByte{width: 8, pos: newARange(nonAdaptive)}, "add-u64"} }

// namedOp adapts an operator lacking its own Name into the Operator
// interface without duplicating Apply/Update wiring per width.
type namedOp struct {
	inner interface {
		Apply(buf []byte, corpus CorpusView) ([]byte, error)
		Update(success bool)
	}
	name string
}

func (n *namedOp) Name() string { return n.name }
func (n *namedOp) Apply(buf []byte, corpus CorpusView) ([]byte, error) {
	return n.inner.Apply(buf, corpus)
}
func (n *namedOp) Update(success bool) { n.inner.Update(success) }

// --- replace-byte-interesting ---

type replaceByteInteresting struct {
	pos *sampler.AdaptiveRange
}

func newReplaceByteInteresting(nonAdaptive bool) *replaceByteInteresting {
	return &replaceByteInteresting{pos: newARange(nonAdaptive)}
}

func (o *replaceByteInteresting) Name() string { return "replace-byte-interesting" }

func (o *replaceByteInteresting) Apply(buf []byte, _ CorpusView) ([]byte, error) {
	if len(buf) < 1 {
		return nil, ErrOutOfData
	}
	pos, err := o.pos.SampleMax(len(buf) - 1)
	if err != nil {
		return nil, err
	}
	buf[pos] = interesting8[secureRandomInt(len(interesting8))]
	return buf, nil
}

func (o *replaceByteInteresting) Update(success bool) {
	o.pos.Update(success)
}

// --- replace-u16-interesting ---

type replaceU16Interesting struct {
	pos *sampler.AdaptiveRange
}

func newReplaceU16Interesting(nonAdaptive bool) *replaceU16Interesting {
	return &replaceU16Interesting{pos: newARange(nonAdaptive)}
}

func (o *replaceU16Interesting) Name() string { return "replace-u16-interesting" }

func (o *replaceU16Interesting) Apply(buf []byte, _ CorpusView) ([]byte, error) {
	if len(buf) < 2 {
		return nil, ErrOutOfData
	}
	pos, err := o.pos.SampleMax(len(buf) - 2)
	if err != nil {
		return nil, err
	}
	v := interesting16[secureRandomInt(len(interesting16))]
	if secureRandomInt(2) == 0 {
		buf[pos], buf[pos+1] = byte(v), byte(v>>8)
	} else {
		buf[pos], buf[pos+1] = byte(v>>8), byte(v)
	}
	return buf, nil
}

func (o *replaceU16Interesting) Update(success bool) {
	o.pos.Update(success)
}

// --- replace-u32-interesting ---

type replaceU32Interesting struct {
	pos *sampler.AdaptiveRange
}

func newReplaceU32Interesting(nonAdaptive bool) *replaceU32Interesting {
	return &replaceU32Interesting{pos: newARange(nonAdaptive)}
}

func (o *replaceU32Interesting) Name() string { return "replace-u32-interesting" }

func (o *replaceU32Interesting) Apply(buf []byte, _ CorpusView) ([]byte, error) {
	if len(buf) < 4 {
		return nil, ErrOutOfData
	}
	pos, err := o.pos.SampleMax(len(buf) - 4)
	if err != nil {
		return nil, err
	}
	v := interesting32[secureRandomInt(len(interesting32))]
	order := secureRandomInt(2) == 0
	for i := 0; i < 4; i++ {
		shift := uint(i * 8)
		if order {
			buf[pos+i] = byte(v >> shift)
		} else {
			buf[pos+3-i] = byte(v >> shift)
		}
	}
	return buf, nil
}

func (o *replaceU32Interesting) Update(success bool) {
	o.pos.Update(success)
}

// --- replace-ascii-digit ---

type replaceASCIIDigit struct {
	pos *sampler.AdaptiveRange
}

func newReplaceASCIIDigit(nonAdaptive bool) *replaceASCIIDigit {
	return &replaceASCIIDigit{pos: newARange(nonAdaptive)}
}

func (o *replaceASCIIDigit) Name() string { return "replace-ascii-digit" }

func isASCIIDigit(b byte) bool { return b >= '0' && b <= '9' }

func (o *replaceASCIIDigit) Apply(buf []byte, _ CorpusView) ([]byte, error) {
	var digitPositions []int
	for i, b := range buf {
		if isASCIIDigit(b) {
			digitPositions = append(digitPositions, i)
		}
	}
	if len(digitPositions) == 0 {
		return nil, ErrOutOfData
	}
	idx, err := o.pos.SampleMax(len(digitPositions) - 1)
	if err != nil {
		return nil, err
	}
	pos := digitPositions[idx]

	next := byte('0' + secureRandomInt(9))
	if next >= buf[pos] {
		next++
	}
	buf[pos] = next
	return buf, nil
}

func (o *replaceASCIIDigit) Update(success bool) {
	o.pos.Update(success)
}

// --- splice ---

type splice struct {
	input *sampler.AdaptiveRange
	tail  *sampler.AdaptiveRange
}

func newSplice(nonAdaptive bool) *splice {
	return &splice{input: newARange(nonAdaptive), tail: newARange(nonAdaptive)}
}

func (o *splice) Name() string { return "splice" }

func (o *splice) Apply(buf []byte, corpus CorpusView) ([]byte, error) {
	if len(buf) < 1 || corpus == nil || corpus.Len() < 2 {
		return nil, ErrOutOfData
	}

	idx, err := o.input.SampleMax(corpus.Len() - 1)
	if err != nil {
		return nil, err
	}
	other := corpus.At(idx)
	if len(other) == 0 {
		return nil, ErrOutOfData
	}

	prefixLen, err := o.tail.SampleMax(len(buf))
	if err != nil {
		return nil, err
	}
	tailStart := secureRandomInt(len(other) + 1)

	res := make([]byte, 0, prefixLen+len(other)-tailStart)
	res = append(res, buf[:prefixLen]...)
	res = append(res, other[tailStart:]...)
	return res, nil
}

func (o *splice) Update(success bool) {
	o.input.Update(success)
	o.tail.Update(success)
}

// --- dictionary-insert (optional 17th operator) ---

type dictionaryInsert struct {
	words []([]byte)
	word  *sampler.AdaptiveRange
	start *sampler.AdaptiveRange
}

func newDictionaryInsert(words [][]byte, nonAdaptive bool) *dictionaryInsert {
	return &dictionaryInsert{
		words: words,
		word:  newARange(nonAdaptive),
		start: newARange(nonAdaptive),
	}
}

func (o *dictionaryInsert) Name() string { return "dictionary-insert" }

func (o *dictionaryInsert) Apply(buf []byte, _ CorpusView) ([]byte, error) {
	if len(o.words) == 0 {
		return nil, ErrOutOfData
	}
	wIdx, err := o.word.SampleMax(len(o.words) - 1)
	if err != nil {
		return nil, err
	}
	start, err := o.start.Sample(0, len(buf))
	if err != nil {
		return nil, err
	}
	return bytesops.Insert(buf, start, o.words[wIdx])
}

func (o *dictionaryInsert) Update(success bool) {
	o.word.Update(success)
	o.start.Update(success)
}

func newARange(nonAdaptive bool) *sampler.AdaptiveRange {
	a := sampler.NewAdaptiveRange()
	a.NonAdaptive = nonAdaptive
	return a
}
