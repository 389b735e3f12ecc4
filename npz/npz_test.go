package npz

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/unixpickle/featex/tensor"
)

func TestNPYHeaderAlignment(t *testing.T) {
	for _, shape := range [][]int{{}, {4}, {1, 4}, {7, 7, 512}} {
		var buf bytes.Buffer
		if err := WriteNPY(&buf, tensor.New(shape...)); err != nil {
			t.Fatal(err)
		}
		data := buf.Bytes()
		headerLen := int(binary.LittleEndian.Uint16(data[8:10]))
		if (10+headerLen)%npyAlign != 0 {
			t.Errorf("shape %v: misaligned header length %d", shape, headerLen)
		}
		if data[10+headerLen-1] != '\n' {
			t.Errorf("shape %v: header should end in a newline", shape)
		}
	}
}

func TestNPYShapeStrings(t *testing.T) {
	cases := map[string][]int{
		"()":        {},
		"(4,)":      {4},
		"(1, 4)":    {1, 4},
		"(2, 3, 5)": {2, 3, 5},
	}
	for expected, shape := range cases {
		if actual := shapeString(shape); actual != expected {
			t.Errorf("shape %v: expected %s but got %s", shape, expected, actual)
		}
	}
}

func TestNPYRoundTrip(t *testing.T) {
	in, _ := tensor.FromData([]float32{1, -2.5, float32(math.Inf(1)), 3e-8, 0, 7}, 2, 3)
	var buf bytes.Buffer
	if err := WriteNPY(&buf, in); err != nil {
		t.Fatal(err)
	}
	out, err := ReadNPY(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("expected %v but got %v", in, out)
	}
}

func TestNPYDtypes(t *testing.T) {
	cases := []struct {
		descr string
		data  interface{}
		order binary.ByteOrder
	}{
		{"<f8", []float64{0.5, 2, -4}, binary.LittleEndian},
		{">f4", []float32{0.5, 2, -4}, binary.BigEndian},
		{"<f2", []uint16{0x3800, 0x4000, 0xc400}, binary.LittleEndian},
		{"<i8", []int64{1, 2, -4}, binary.LittleEndian},
		{">i4", []int32{1, 2, -4}, binary.BigEndian},
		{"<i2", []int16{1, 2, -4}, binary.LittleEndian},
		{"|i1", []int8{1, 2, -4}, binary.LittleEndian},
		{"|u1", []uint8{1, 2, 252}, binary.LittleEndian},
		{">u2", []uint16{1, 2, 252}, binary.BigEndian},
		{"<u4", []uint32{1, 2, 252}, binary.LittleEndian},
		{"<u8", []uint64{1, 2, 252}, binary.LittleEndian},
		{"|b1", []uint8{1, 0, 1}, binary.LittleEndian},
	}
	expected := map[string][]float32{
		"<f8": {0.5, 2, -4},
		">f4": {0.5, 2, -4},
		"<f2": {0.5, 2, -4},
		"<i8": {1, 2, -4},
		">i4": {1, 2, -4},
		"<i2": {1, 2, -4},
		"|i1": {1, 2, -4},
		"|u1": {1, 2, 252},
		">u2": {1, 2, 252},
		"<u4": {1, 2, 252},
		"<u8": {1, 2, 252},
		"|b1": {1, 0, 1},
	}
	for _, c := range cases {
		var data bytes.Buffer
		binary.Write(&data, c.order, c.data)
		out, err := ReadNPY(rawNPY(c.descr, false, "(3,)", data.Bytes()))
		if err != nil {
			t.Errorf("%s: %v", c.descr, err)
			continue
		}
		if !reflect.DeepEqual(out.Shape, []int{3}) {
			t.Errorf("%s: bad shape %v", c.descr, out.Shape)
		}
		if !reflect.DeepEqual(out.Data, expected[c.descr]) {
			t.Errorf("%s: expected %v but got %v", c.descr, expected[c.descr], out.Data)
		}
	}
}

func TestNPYFortranOrder(t *testing.T) {
	// The 2x3 array [[1 2 3] [4 5 6]] in column-major order.
	var data bytes.Buffer
	binary.Write(&data, binary.LittleEndian, []float32{1, 4, 2, 5, 3, 6})
	out, err := ReadNPY(rawNPY("<f4", true, "(2, 3)", data.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out.Shape, []int{2, 3}) {
		t.Errorf("bad shape: %v", out.Shape)
	}
	if !reflect.DeepEqual(out.Data, []float32{1, 2, 3, 4, 5, 6}) {
		t.Errorf("bad data: %v", out.Data)
	}
}

func TestNPYUnsupported(t *testing.T) {
	for _, descr := range []string{"<c8", "<U5", "|O", "|S3", "<f16", "<i3"} {
		if _, err := parseDescr(descr); !errors.Is(err, ErrUnsupported) {
			t.Errorf("%s: expected ErrUnsupported but got %v", descr, err)
		}
	}
	if _, err := ReadNPY(rawNPY("<c8", false, "(1,)", make([]byte, 8))); err == nil {
		t.Error("expected error for complex data")
	}
}

func TestNPYCorrupt(t *testing.T) {
	shapes := []string{
		"(99999999999, 99999)",
		"(9223372036854775807, 9223372036854775807)",
		"(1000000,)",
		"(3,)",
	}
	for _, shape := range shapes {
		if _, err := ReadNPY(rawNPY("<f4", false, shape, make([]byte, 8))); err == nil {
			t.Errorf("shape %s: expected error", shape)
		}
	}
	if _, err := ReadNPY(bytes.NewReader([]byte(npyMagic + "\x01"))); err == nil {
		t.Error("expected error for truncated header")
	}
}

// rawNPY encodes a version 1.0 array from raw data bytes.
func rawNPY(descr string, fortran bool, shape string, data []byte) *bytes.Buffer {
	order := "False"
	if fortran {
		order = "True"
	}
	header := "{'descr': '" + descr + "', 'fortran_order': " + order + ", 'shape': " + shape + ", }"
	header += strings.Repeat(" ", 64-(10+len(header)+1)%64) + "\n"
	var buf bytes.Buffer
	buf.WriteString(npyMagic)
	buf.Write([]byte{1, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	buf.Write(data)
	return &buf
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "3.npz")
	in, _ := tensor.FromData([]float32{1, 2, 3, 4}, 1, 4)
	if err := WriteFile(path, DefaultKey, in); err != nil {
		t.Fatal(err)
	}
	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if !reflect.DeepEqual(r.Keys(), []string{DefaultKey}) {
		t.Errorf("bad keys: %v", r.Keys())
	}
	out, err := r.Read(DefaultKey)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Errorf("expected %v but got %v", in, out)
	}
	if _, err := r.Read("missing"); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	in, _ := tensor.FromData([]float32{0.25, 0.5, 0.75}, 3)
	var contents [][]byte
	for _, name := range []string{"a.npz", "b.npz"} {
		path := filepath.Join(dir, name)
		if err := WriteFile(path, DefaultKey, in); err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		contents = append(contents, data)
	}
	if !bytes.Equal(contents[0], contents[1]) {
		t.Error("archives of the same array differ")
	}
}
