package npz

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/featex/tensor"
)

const npyMagic = "\x93NUMPY"

// Header alignment used by numpy >= 1.17.
const npyAlign = 64

var (
	descrExpr   = regexp.MustCompile(`'descr':\s*'([^']*)'`)
	fortranExpr = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	shapeExpr   = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

// ErrUnsupported is returned for arrays this package
// cannot decode, such as complex, string or object
// dtypes.
var ErrUnsupported = errors.New("npy: unsupported array")

// WriteNPY encodes a tensor in the .npy format (version
// 1.0) as a little-endian float32 array.
func WriteNPY(w io.Writer, t *tensor.Tensor) error {
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': %s, }",
		shapeString(t.Shape))
	// magic + version + header length + header + newline.
	total := len(npyMagic) + 2 + 2 + len(header) + 1
	if pad := total % npyAlign; pad != 0 {
		header += strings.Repeat(" ", npyAlign-pad)
	}
	header += "\n"
	if len(header) > 0xffff {
		return errors.New("npy: header too long")
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(npyMagic)
	bw.Write([]byte{1, 0})
	binary.Write(bw, binary.LittleEndian, uint16(len(header)))
	bw.WriteString(header)
	if err := binary.Write(bw, binary.LittleEndian, t.Data); err != nil {
		return essentials.AddCtx("write npy", err)
	}
	return essentials.AddCtx("write npy", bw.Flush())
}

// ReadNPY decodes an array in the .npy format.
//
// Boolean, integer and floating point dtypes of either
// byte order are accepted and converted to float32.
// Fortran-ordered arrays are rearranged into C order.
func ReadNPY(r io.Reader) (*tensor.Tensor, error) {
	br := bufio.NewReader(r)
	var prefix [len(npyMagic) + 2]byte
	if _, err := io.ReadFull(br, prefix[:]); err != nil {
		return nil, essentials.AddCtx("read npy", err)
	}
	if string(prefix[:len(npyMagic)]) != npyMagic {
		return nil, errors.New("read npy: bad magic")
	}
	var headerLen int
	switch major := prefix[len(npyMagic)]; major {
	case 1:
		var n uint16
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, essentials.AddCtx("read npy", err)
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, essentials.AddCtx("read npy", err)
		}
		if n > maxHeaderLen {
			return nil, fmt.Errorf("read npy: header length %d too large", n)
		}
		headerLen = int(n)
	default:
		return nil, fmt.Errorf("read npy: unknown format version %d", major)
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, essentials.AddCtx("read npy", err)
	}
	h, err := parseHeader(string(header))
	if err != nil {
		return nil, essentials.AddCtx("read npy", err)
	}
	dt, err := parseDescr(h.descr)
	if err != nil {
		return nil, essentials.AddCtx("read npy", err)
	}
	size, err := dataSize(h.shape, dt.size)
	if err != nil {
		return nil, essentials.AddCtx("read npy", err)
	}

	// Allocation follows the bytes actually present, not
	// the shape in the header.
	data, err := io.ReadAll(io.LimitReader(br, int64(size)))
	if err != nil {
		return nil, essentials.AddCtx("read npy", err)
	}
	if len(data) != size {
		return nil, fmt.Errorf("read npy: expected %d bytes of data for shape %v but found %d",
			size, h.shape, len(data))
	}

	values := make([]float32, size/dt.size)
	for i := range values {
		values[i] = dt.decode(data[i*dt.size:])
	}
	if h.fortran {
		values = fortranToC(values, h.shape)
	}
	return tensor.FromData(values, h.shape...)
}

// Header lengths beyond this are certainly corrupt.
const maxHeaderLen = 1 << 20

type npyHeader struct {
	descr   string
	fortran bool
	shape   []int
}

func parseHeader(header string) (*npyHeader, error) {
	m := descrExpr.FindStringSubmatch(header)
	if m == nil {
		return nil, errors.New("header missing descr")
	}
	res := &npyHeader{descr: m[1]}
	fm := fortranExpr.FindStringSubmatch(header)
	if fm == nil {
		return nil, errors.New("header missing fortran_order")
	}
	res.fortran = fm[1] == "True"
	m = shapeExpr.FindStringSubmatch(header)
	if m == nil {
		return nil, errors.New("header missing shape")
	}
	res.shape = []int{}
	for _, field := range strings.Split(m[1], ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(field, "L"))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("bad shape entry %q", field)
		}
		res.shape = append(res.shape, n)
	}
	return res, nil
}

// dataSize computes the number of data bytes for a shape,
// failing if the count does not fit in an int.
func dataSize(shape []int, itemSize int) (int, error) {
	res := itemSize
	for _, x := range shape {
		if x != 0 && res > math.MaxInt/x {
			return 0, fmt.Errorf("shape %v is too large", shape)
		}
		res *= x
	}
	return res, nil
}

type dtype struct {
	order binary.ByteOrder
	kind  byte
	size  int
}

func parseDescr(descr string) (*dtype, error) {
	if len(descr) < 3 {
		return nil, fmt.Errorf("%w: dtype %q", ErrUnsupported, descr)
	}
	res := &dtype{kind: descr[1]}
	switch descr[0] {
	case '<', '|', '=':
		res.order = binary.LittleEndian
	case '>':
		res.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: dtype %q", ErrUnsupported, descr)
	}
	size, err := strconv.Atoi(descr[2:])
	if err != nil {
		return nil, fmt.Errorf("%w: dtype %q", ErrUnsupported, descr)
	}
	res.size = size
	supported := map[byte][]int{
		'b': {1},
		'i': {1, 2, 4, 8},
		'u': {1, 2, 4, 8},
		'f': {2, 4, 8},
	}
	for _, s := range supported[res.kind] {
		if s == size {
			return res, nil
		}
	}
	return nil, fmt.Errorf("%w: dtype %q", ErrUnsupported, descr)
}

// decode converts the first element of b.
func (d *dtype) decode(b []byte) float32 {
	if d.size == 1 {
		if d.kind == 'i' {
			return float32(int8(b[0]))
		}
		return float32(b[0])
	}
	switch d.kind {
	case 'i':
		switch d.size {
		case 2:
			return float32(int16(d.order.Uint16(b)))
		case 4:
			return float32(int32(d.order.Uint32(b)))
		default:
			return float32(int64(d.order.Uint64(b)))
		}
	case 'u':
		switch d.size {
		case 2:
			return float32(d.order.Uint16(b))
		case 4:
			return float32(d.order.Uint32(b))
		default:
			return float32(d.order.Uint64(b))
		}
	default:
		switch d.size {
		case 2:
			return halfToFloat32(d.order.Uint16(b))
		case 4:
			return math.Float32frombits(d.order.Uint32(b))
		default:
			return float32(math.Float64frombits(d.order.Uint64(b)))
		}
	}
}

func halfToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff
	switch exp {
	case 0:
		// Zero or subnormal.
		res := float32(frac) / (1 << 24)
		if sign != 0 {
			res = -res
		}
		return res
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | frac<<13)
	}
	return math.Float32frombits(sign | (exp+112)<<23 | frac<<13)
}

// fortranToC reorders column-major values into row-major
// order.
func fortranToC(values []float32, shape []int) []float32 {
	if len(shape) < 2 {
		return values
	}
	strides := make([]int, len(shape))
	stride := 1
	for i, x := range shape {
		strides[i] = stride
		stride *= x
	}
	res := make([]float32, len(values))
	index := make([]int, len(shape))
	for i := range res {
		offset := 0
		for j, x := range index {
			offset += x * strides[j]
		}
		res[i] = values[offset]
		for j := len(index) - 1; j >= 0; j-- {
			index[j]++
			if index[j] < shape[j] {
				break
			}
			index[j] = 0
		}
	}
	return res
}

func shapeString(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return fmt.Sprintf("(%d,)", shape[0])
	}
	parts := make([]string, len(shape))
	for i, x := range shape {
		parts[i] = strconv.Itoa(x)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
