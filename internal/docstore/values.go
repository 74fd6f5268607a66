package docstore

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// toDocument переводит структуру или map в map[string]interface{} через bson,
// чтобы теги полей и представление времени совпадали с тем, что хранится в Mongo.
func toDocument(data interface{}) (map[string]interface{}, error) {
	if data == nil {
		return map[string]interface{}{}, nil
	}
	raw, err := bson.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return normalize(map[string]interface{}(m)).(map[string]interface{}), nil
}

// toValue нормализует отдельное значение поля тем же способом, что и документ
func toValue(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	doc, err := toDocument(bson.M{"v": v})
	if err != nil {
		return nil, err
	}
	return doc["v"], nil
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		return normalize(map[string]interface{}(t))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case bson.D:
		out := make(map[string]interface{}, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		return normalize([]interface{}(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case time.Time:
		return primitive.NewDateTimeFromTime(t)
	default:
		return v
	}
}

func clone(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = clone(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = clone(val)
		}
		return out
	default:
		return v
	}
}

func lookup(doc map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// parentOf возвращает map, в котором лежит последний сегмент пути, создавая промежуточные уровни
func parentOf(doc map[string]interface{}, path string, create bool) (map[string]interface{}, string, error) {
	segs := strings.Split(path, ".")
	cur := doc
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg]
		if !ok || next == nil {
			if !create {
				return nil, "", nil
			}
			m := map[string]interface{}{}
			cur[seg] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]interface{})
		if !ok {
			return nil, "", fmt.Errorf("field %q is not a map", seg)
		}
		cur = m
	}
	return cur, segs[len(segs)-1], nil
}

// apply применяет одно обновление к документу на месте
func apply(doc map[string]interface{}, u Update, now time.Time) error {
	if err := validatePath(u.Path); err != nil {
		return err
	}

	if u.Op == OpDelete {
		parent, key, err := parentOf(doc, u.Path, false)
		if err != nil {
			return err
		}
		if parent != nil {
			delete(parent, key)
		}
		return nil
	}

	parent, key, err := parentOf(doc, u.Path, true)
	if err != nil {
		return err
	}

	switch u.Op {
	case OpSet:
		v, err := toValue(u.Value)
		if err != nil {
			return err
		}
		parent[key] = v
	case OpServerTimestamp:
		parent[key] = primitive.NewDateTimeFromTime(now)
	case OpIncrement:
		switch cur := parent[key].(type) {
		case nil:
			parent[key] = u.Delta
		case int64:
			parent[key] = cur + u.Delta
		case float64:
			parent[key] = cur + float64(u.Delta)
		default:
			return fmt.Errorf("field %q is not numeric", u.Path)
		}
	case OpArrayUnion, OpArrayRemove:
		var arr []interface{}
		if existing, ok := parent[key]; ok && existing != nil {
			arr, ok = existing.([]interface{})
			if !ok {
				return fmt.Errorf("field %q is not an array", u.Path)
			}
		}
		for _, raw := range u.Values {
			v, err := toValue(raw)
			if err != nil {
				return err
			}
			idx := indexOf(arr, v)
			if u.Op == OpArrayUnion && idx < 0 {
				arr = append(arr, v)
			}
			if u.Op == OpArrayRemove {
				for idx >= 0 {
					arr = append(arr[:idx], arr[idx+1:]...)
					idx = indexOf(arr, v)
				}
			}
		}
		if arr == nil {
			arr = []interface{}{}
		}
		parent[key] = arr
	case OpArrayRemoveWhere:
		if err := validatePath(u.Field); err != nil {
			return err
		}
		v, err := toValue(u.Value)
		if err != nil {
			return err
		}
		existing, ok := parent[key]
		if !ok || existing == nil {
			parent[key] = []interface{}{}
			return nil
		}
		arr, ok := existing.([]interface{})
		if !ok {
			return fmt.Errorf("field %q is not an array", u.Path)
		}
		kept := make([]interface{}, 0, len(arr))
		for _, el := range arr {
			if m, isDoc := el.(map[string]interface{}); isDoc {
				if fv, has := lookup(m, u.Field); has && reflect.DeepEqual(fv, v) {
					continue
				}
			}
			kept = append(kept, el)
		}
		parent[key] = kept
	default:
		return fmt.Errorf("unsupported update op %s", u.Op)
	}
	return nil
}

func indexOf(arr []interface{}, v interface{}) int {
	for i, el := range arr {
		if reflect.DeepEqual(el, v) {
			return i
		}
	}
	return -1
}

// compare сравнивает значения одного типа: -1, 0, 1. ok=false если сравнить нельзя.
func compare(a, b interface{}) (int, bool) {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case primitive.DateTime:
		bv, ok := b.(primitive.DateTime)
		if !ok {
			return 0, false
		}
		return cmpOrdered(int64(av), int64(bv)), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return cmpOrdered(af, bf), true
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func matches(doc map[string]interface{}, f Filter) bool {
	fv, err := toValue(f.Value)
	if err != nil {
		return false
	}
	v, ok := lookup(doc, f.Field)

	switch f.Op {
	case OpEqual:
		if !ok {
			return fv == nil
		}
		if arr, isArr := v.([]interface{}); isArr {
			if _, filterIsArr := fv.([]interface{}); !filterIsArr {
				return indexOf(arr, fv) >= 0
			}
		}
		return reflect.DeepEqual(v, fv)
	case OpNotEqual:
		return ok && !reflect.DeepEqual(v, fv)
	case OpArrayContains:
		arr, isArr := v.([]interface{})
		return ok && isArr && indexOf(arr, fv) >= 0
	case OpIn:
		list, isArr := fv.([]interface{})
		return ok && isArr && indexOf(list, v) >= 0
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		if !ok {
			return false
		}
		c, comparable := compare(v, fv)
		if !comparable {
			return false
		}
		switch f.Op {
		case OpLess:
			return c < 0
		case OpLessEqual:
			return c <= 0
		case OpGreater:
			return c > 0
		default:
			return c >= 0
		}
	default:
		return false
	}
}
