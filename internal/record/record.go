package record

// Record is one row of tabular data: an ordered mapping from field name to
// value. A field can hold a value or be absent; absent fields render as
// empty strings on output, and an empty input field reads back as absent,
// so the two are interchangeable across a write/read round trip.
//
// A Record is not safe for concurrent mutation. During enrichment each
// record is owned by exactly one worker.
type Record struct {
	columns []string
	values  map[string]string
	present map[string]bool
}

func New() *Record {
	return &Record{
		values:  make(map[string]string),
		present: make(map[string]bool),
	}
}

// Set stores a value under name, registering the column on first use.
// An empty value is recorded as absent.
func (r *Record) Set(name, value string) {
	r.register(name)
	if value == "" {
		r.values[name] = ""
		r.present[name] = false
		return
	}
	r.values[name] = value
	r.present[name] = true
}

// SetAbsent registers the column without a value.
func (r *Record) SetAbsent(name string) {
	r.register(name)
	r.values[name] = ""
	r.present[name] = false
}

// Get returns the value for name and whether it is present.
// Absent fields and unknown columns both report false.
func (r *Record) Get(name string) (string, bool) {
	if !r.present[name] {
		return "", false
	}
	return r.values[name], true
}

// Value returns the output rendering of a field: its value, or the empty
// string when the field is absent or the column is unknown.
func (r *Record) Value(name string) string {
	return r.values[name]
}

// Has reports whether the column exists on the record, present or absent.
func (r *Record) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// Columns returns the field names in insertion order.
func (r *Record) Columns() []string {
	return r.columns
}

// Len returns the number of columns.
func (r *Record) Len() int {
	return len(r.columns)
}

func (r *Record) register(name string) {
	if _, ok := r.values[name]; !ok {
		r.columns = append(r.columns, name)
	}
}
