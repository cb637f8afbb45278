package netview

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrNoMethod        = errors.New("netview: no matching method")
	ErrAmbiguousMethod = errors.New("netview: more than one matching method")
)

var (
	infoType     = reflect.TypeOf(Info{})
	catchAllType = reflect.TypeOf([]any(nil))
)

// Method — одна перегрузка удалённо вызываемого метода.
type Method struct {
	Name string
	// Params — типы аргументов без завершающего Info.
	Params []reflect.Type
	// WithInfo — последним параметром метод принимает Info.
	WithInfo bool
	// CatchAll — единственный параметр []any, принимает любые аргументы.
	CatchAll bool
	Invoke   func(target any, args []any, info Info)
}

// accepts — подходит ли перегрузка под аргументы вызова.
func (m *Method) accepts(args []any) bool {
	if m.CatchAll {
		return true
	}
	if len(args) != len(m.Params) {
		return false
	}
	for i, a := range args {
		if !assignable(a, m.Params[i]) {
			return false
		}
	}
	return true
}

func assignable(v any, t reflect.Type) bool {
	if v == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map:
			return true
		}
		return false
	}
	return reflect.TypeOf(v).AssignableTo(t)
}

type cacheKey struct {
	t    reflect.Type
	name string
	sig  string
}

// Table — явный реестр удалённо вызываемых методов по типу цели.
// Заполняется при старте; поиск перегрузки кэшируется.
type Table struct {
	methods map[reflect.Type]map[string][]*Method
	cache   *lru.Cache[cacheKey, []*Method]
}

const resolveCacheSize = 512

func NewTable() *Table {
	cache, _ := lru.New[cacheKey, []*Method](resolveCacheSize)
	return &Table{methods: map[reflect.Type]map[string][]*Method{}, cache: cache}
}

// Add регистрирует перегрузку для типа цели t.
func (tb *Table) Add(t reflect.Type, m Method) {
	byName := tb.methods[t]
	if byName == nil {
		byName = map[string][]*Method{}
		tb.methods[t] = byName
	}
	mm := m
	byName[m.Name] = append(byName[m.Name], &mm)
	tb.cache.Purge()
}

// Register описывает экспортированные методы sample с именами names
// (все экспортированные, если имена не заданы). Reflection используется
// только здесь, при регистрации.
func (tb *Table) Register(sample any, names ...string) error {
	t := reflect.TypeOf(sample)
	if t == nil {
		return fmt.Errorf("register nil target: %w", ErrNoMethod)
	}
	if len(names) == 0 {
		for i := 0; i < t.NumMethod(); i++ {
			names = append(names, t.Method(i).Name)
		}
	}
	for _, name := range names {
		rm, ok := t.MethodByName(name)
		if !ok {
			return fmt.Errorf("%v.%s: %w", t, name, ErrNoMethod)
		}
		tb.Add(t, reflectMethod(rm))
	}
	return nil
}

func reflectMethod(rm reflect.Method) Method {
	ft := rm.Type // первый параметр — получатель
	params := make([]reflect.Type, 0, ft.NumIn()-1)
	for i := 1; i < ft.NumIn(); i++ {
		params = append(params, ft.In(i))
	}
	m := Method{Name: rm.Name}
	if n := len(params); n > 0 && params[n-1] == infoType {
		m.WithInfo = true
		params = params[:n-1]
	}
	if len(params) == 1 && params[0] == catchAllType && !m.WithInfo {
		m.CatchAll = true
	}
	m.Params = params

	fn := rm.Func
	m.Invoke = func(target any, args []any, info Info) {
		in := make([]reflect.Value, 0, len(params)+2)
		in = append(in, reflect.ValueOf(target))
		if m.CatchAll {
			in = append(in, reflect.ValueOf(args))
		} else {
			for i, a := range args {
				if a == nil {
					in = append(in, reflect.Zero(params[i]))
				} else {
					in = append(in, reflect.ValueOf(a))
				}
			}
		}
		if m.WithInfo {
			in = append(in, reflect.ValueOf(info))
		}
		fn.Call(in)
	}
	return m
}

// Has — у типа есть методы с таким именем.
func (tb *Table) Has(t reflect.Type, name string) bool {
	return len(tb.methods[t][name]) > 0
}

// candidates — перегрузки метода name типа t, подходящие под args.
func (tb *Table) candidates(t reflect.Type, name string, args []any) []*Method {
	key := cacheKey{t: t, name: name, sig: signature(args)}
	if ms, ok := tb.cache.Get(key); ok {
		return ms
	}
	var out []*Method
	for _, m := range tb.methods[t][name] {
		if m.accepts(args) {
			out = append(out, m)
		}
	}
	tb.cache.Add(key, out)
	return out
}

// Match — найденная перегрузка и цель, на которой её вызывать.
type Match struct {
	Target any
	Method *Method
}

// Resolve ищет ровно одну подходящую перегрузку среди всех целей.
func (tb *Table) Resolve(targets []any, name string, args []any) (Match, error) {
	var found []Match
	for _, target := range targets {
		for _, m := range tb.candidates(reflect.TypeOf(target), name, args) {
			found = append(found, Match{Target: target, Method: m})
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return Match{}, fmt.Errorf("%s(%s): %w", name, signature(args), ErrNoMethod)
	}
	return Match{}, fmt.Errorf("%s(%s): %d candidates: %w", name, signature(args), len(found), ErrAmbiguousMethod)
}

func signature(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if a == nil {
			parts[i] = "nil"
			continue
		}
		parts[i] = reflect.TypeOf(a).String()
	}
	return strings.Join(parts, ",")
}
