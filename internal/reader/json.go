package reader

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/oj"

	"github.com/cmgoffena13/etl-file-loader/internal/fileerr"
	"github.com/cmgoffena13/etl-file-loader/internal/sources"
)

type jsonReader struct {
	src       *sources.Source
	open      OpenFunc
	filename  string
	batchSize int
	rowsRead  int64
}

func newJSONReader(src *sources.Source, open OpenFunc, filename string, batchSize int) *jsonReader {
	return &jsonReader{src: src, open: open, filename: filename, batchSize: batchSize}
}

// StartingRowNumber is 1: JSON carries no header row, the first record
// is the first row.
func (r *jsonReader) StartingRowNumber() int { return 1 }

func (r *jsonReader) RowsRead() int64 { return r.rowsRead }

// Read tokenizes the document instead of materializing it, so memory is
// bounded by the record under construction plus one batch regardless of
// file size.
func (r *jsonReader) Read(ctx context.Context, emit func(Batch) error) error {
	stream, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	var body io.Reader = stream
	if strings.HasSuffix(strings.ToLower(r.filename), ".gz") {
		gz, err := gzip.NewReader(stream)
		if err != nil {
			return fmt.Errorf("gunzip %s: %w", r.filename, err)
		}
		defer gz.Close()
		body = gz
	}

	batch := make(Batch, 0, r.batchSize)
	validated := false
	rs := &recordStream{
		filename: r.filename,
		target:   splitArrayPath(r.src.ArrayPath),
	}
	rs.onRecord = func(obj map[string]any) error {
		if err := checkCtx(ctx); err != nil {
			return err
		}
		flat := flatten(obj, "")
		if !validated {
			fields := make([]string, 0, len(flat))
			for k := range flat {
				fields = append(fields, k)
			}
			if err := validateFields(r.src, r.filename, fields); err != nil {
				return err
			}
			validated = true
		}
		batch = append(batch, flat)
		r.rowsRead++
		if len(batch) == r.batchSize {
			if err := emit(batch); err != nil {
				return err
			}
			batch = make(Batch, 0, r.batchSize)
		}
		return nil
	}

	if err := oj.TokenizeLoad(body, rs); err != nil && rs.err == nil {
		return fmt.Errorf("parse json %s: %w", r.filename, err)
	}
	if rs.err != nil {
		return rs.err
	}
	if r.rowsRead == 0 {
		return fileerr.New(fileerr.KindNoDataInFile, map[string]any{
			"source_filename": r.filename,
		})
	}
	if len(batch) > 0 {
		return emit(batch)
	}
	return nil
}

// splitArrayPath breaks the source's dotted array path into object keys;
// an empty path means the document root is the array.
func splitArrayPath(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, ".")
}

// recordStream is an oj.TokenHandler that walks the token stream down
// the source's array path and hands each completed record object to
// onRecord. Subtrees off the path are discarded without being built.
// An object at the path (or as the document root) counts as a single
// record.
type recordStream struct {
	filename string
	target   []string
	onRecord func(map[string]any) error

	path    []string // keys of the objects entered on the way down
	key     string   // last key seen at the search level
	rooted  bool
	inArray bool // positioned inside the records array
	single  bool // the path resolved to a lone object
	skip    int  // container depth of an off-path subtree
	done    bool
	frames  []jsonFrame
	err     error
}

// jsonFrame is one container of the record under construction.
type jsonFrame struct {
	attach  string // key in the parent object this container lands under
	pending string // next key, for object frames
	obj     map[string]any
	arr     []any
	isObj   bool
}

func (s *recordStream) Null()           { s.value(nil) }
func (s *recordStream) Bool(v bool)     { s.value(v) }
func (s *recordStream) Int(v int64)     { s.value(v) }
func (s *recordStream) Float(v float64) { s.value(v) }
func (s *recordStream) Number(v string) { s.value(v) }
func (s *recordStream) String(v string) { s.value(v) }

func (s *recordStream) value(v any) {
	if s.err != nil || s.done || s.skip > 0 {
		return
	}
	if len(s.frames) > 0 {
		top := &s.frames[len(s.frames)-1]
		if top.isObj {
			top.obj[top.pending] = v
		} else {
			top.arr = append(top.arr, v)
		}
		return
	}
	if s.inArray {
		s.err = fmt.Errorf("json %s: array element is %T, want object", s.filename, v)
	}
}

func (s *recordStream) Key(k string) {
	if s.err != nil || s.done || s.skip > 0 {
		return
	}
	if len(s.frames) > 0 {
		s.frames[len(s.frames)-1].pending = k
		return
	}
	s.key = k
}

func (s *recordStream) ObjectStart() {
	if s.err != nil || s.done {
		return
	}
	if s.skip > 0 {
		s.skip++
		return
	}
	if len(s.frames) > 0 || s.inArray {
		s.pushFrame(true)
		return
	}
	if !s.rooted {
		s.rooted = true
		if len(s.target) == 0 {
			s.single = true
			s.pushFrame(true)
		}
		return
	}
	candidate := s.candidate()
	switch {
	case slices.Equal(candidate, s.target):
		s.single = true
		s.pushFrame(true)
	case isPathPrefix(candidate, s.target):
		s.path = candidate
	default:
		s.skip = 1
	}
}

func (s *recordStream) ObjectEnd() {
	if s.err != nil || s.done {
		return
	}
	if s.skip > 0 {
		s.skip--
		return
	}
	if len(s.frames) > 0 {
		f := s.frames[len(s.frames)-1]
		s.frames = s.frames[:len(s.frames)-1]
		if len(s.frames) == 0 {
			if err := s.onRecord(f.obj); err != nil {
				s.err = err
			}
			if s.single {
				s.done = true
			}
			return
		}
		s.attachTo(f.attach, f.obj)
		return
	}
	if len(s.path) > 0 {
		s.path = s.path[:len(s.path)-1]
	}
}

func (s *recordStream) ArrayStart() {
	if s.err != nil || s.done {
		return
	}
	if s.skip > 0 {
		s.skip++
		return
	}
	if len(s.frames) > 0 {
		s.pushFrame(false)
		return
	}
	if s.inArray {
		s.err = fmt.Errorf("json %s: array element is an array, want object", s.filename)
		return
	}
	if !s.rooted {
		s.rooted = true
		if len(s.target) == 0 {
			s.inArray = true
		} else {
			s.skip = 1
		}
		return
	}
	if slices.Equal(s.candidate(), s.target) {
		s.inArray = true
	} else {
		s.skip = 1
	}
}

func (s *recordStream) ArrayEnd() {
	if s.err != nil || s.done {
		return
	}
	if s.skip > 0 {
		s.skip--
		return
	}
	if len(s.frames) > 0 {
		f := s.frames[len(s.frames)-1]
		s.frames = s.frames[:len(s.frames)-1]
		s.attachTo(f.attach, f.arr)
		return
	}
	if s.inArray {
		s.inArray = false
		s.done = true
	}
}

func (s *recordStream) candidate() []string {
	return append(append([]string{}, s.path...), s.key)
}

func (s *recordStream) pushFrame(isObj bool) {
	f := jsonFrame{isObj: isObj}
	if isObj {
		f.obj = make(map[string]any)
	}
	if len(s.frames) > 0 {
		if parent := &s.frames[len(s.frames)-1]; parent.isObj {
			f.attach = parent.pending
		}
	}
	s.frames = append(s.frames, f)
}

func (s *recordStream) attachTo(key string, v any) {
	top := &s.frames[len(s.frames)-1]
	if top.isObj {
		top.obj[key] = v
	} else {
		top.arr = append(top.arr, v)
	}
}

func isPathPrefix(a, b []string) bool {
	return len(a) < len(b) && slices.Equal(a, b[:len(a)])
}

// flatten collapses nested objects into underscore-joined lowercase
// keys. Arrays of objects flatten with a numeric index segment; scalar
// arrays render as their string form.
func flatten(obj map[string]any, prefix string) map[string]any {
	out := make(map[string]any, len(obj))
	for key, value := range obj {
		k := strings.ToLower(key)
		if prefix != "" {
			k = prefix + "_" + k
		}
		switch v := value.(type) {
		case map[string]any:
			for fk, fv := range flatten(v, k) {
				out[fk] = fv
			}
		case []any:
			if len(v) > 0 {
				if _, ok := v[0].(map[string]any); ok {
					for i, item := range v {
						if nested, ok := item.(map[string]any); ok {
							for fk, fv := range flatten(nested, k+"_"+strconv.Itoa(i)) {
								out[fk] = fv
							}
						} else {
							out[k+"_"+strconv.Itoa(i)] = item
						}
					}
					continue
				}
			}
			parts := make([]string, len(v))
			for i, item := range v {
				parts[i] = fmt.Sprint(item)
			}
			out[k] = "[" + strings.Join(parts, ", ") + "]"
		default:
			out[k] = value
		}
	}
	return out
}
