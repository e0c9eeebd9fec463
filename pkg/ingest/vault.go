package ingest

import (
	"fmt"
	"reflect"
	"strings"
)

type vaultKey struct {
	localID string
	typ     TypeTag
}

// VaultEntry is one stored object with its compound key.
type VaultEntry struct {
	LocalID string
	Type    TypeTag
	Object  BusinessObject
}

// BusinessObjectVault stores business objects under the compound key
// (localID, declared type) with a secondary index by business id.
//
// Lookups by compound key are case-sensitive and type matching is exact: an object
// added as DataFile is never returned for File. GetType is the one case-insensitive
// lookup. Reads return clones.
type BusinessObjectVault struct {
	objects    map[vaultKey]BusinessObject
	order      []vaultKey
	byBusiness map[string]vaultKey
}

// NewBusinessObjectVault creates an empty vault.
func NewBusinessObjectVault() *BusinessObjectVault {
	return &BusinessObjectVault{
		objects:    make(map[vaultKey]BusinessObject),
		byBusiness: make(map[string]vaultKey),
	}
}

func validateVaultArgs(op, localID string, typ TypeTag) error {
	if localID == "" {
		return NewValidationError("local id is required").WithOperation(op)
	}
	if typ == "" {
		return NewValidationError("declared type is required").WithOperation(op)
	}
	return nil
}

// Add stores a clone of obj under (localID, typ). The business id index is
// updated; on a business id collision the last write wins.
func (v *BusinessObjectVault) Add(localID string, obj BusinessObject, typ TypeTag) error {
	if err := validateVaultArgs("vault.add", localID, typ); err != nil {
		return err
	}
	if isNilObject(obj) {
		return NewValidationError("business object is required").WithOperation("vault.add")
	}
	key := vaultKey{localID: localID, typ: typ}
	if _, exists := v.objects[key]; exists {
		return NewDuplicateKeyError(compoundKey(key)).WithOperation("vault.add")
	}
	v.objects[key] = obj.Clone()
	v.order = append(v.order, key)
	v.byBusiness[obj.BusinessID()] = key
	return nil
}

// Update replaces the object stored under (localID, typ).
func (v *BusinessObjectVault) Update(localID string, obj BusinessObject, typ TypeTag) error {
	if err := validateVaultArgs("vault.update", localID, typ); err != nil {
		return err
	}
	if isNilObject(obj) {
		return NewValidationError("business object is required").WithOperation("vault.update")
	}
	key := vaultKey{localID: localID, typ: typ}
	old, exists := v.objects[key]
	if !exists {
		return NewNotFoundError(compoundKey(key)).WithOperation("vault.update")
	}
	v.unindex(old.BusinessID(), key)
	v.objects[key] = obj.Clone()
	v.byBusiness[obj.BusinessID()] = key
	return nil
}

// Remove deletes the object stored under (localID, typ).
func (v *BusinessObjectVault) Remove(localID string, typ TypeTag) error {
	key := vaultKey{localID: localID, typ: typ}
	old, exists := v.objects[key]
	if !exists {
		return NewNotFoundError(compoundKey(key)).WithOperation("vault.remove")
	}
	v.unindex(old.BusinessID(), key)
	delete(v.objects, key)
	for i, k := range v.order {
		if k == key {
			v.order = append(v.order[:i], v.order[i+1:]...)
			break
		}
	}
	return nil
}

// unindex drops the business id entry only if it still points at key.
func (v *BusinessObjectVault) unindex(businessID string, key vaultKey) {
	if current, ok := v.byBusiness[businessID]; ok && current == key {
		delete(v.byBusiness, businessID)
	}
}

// GetByLocalID returns a clone of the object stored under (localID, typ).
func (v *BusinessObjectVault) GetByLocalID(localID string, typ TypeTag) (BusinessObject, bool) {
	obj, ok := v.objects[vaultKey{localID: localID, typ: typ}]
	if !ok {
		return nil, false
	}
	return obj.Clone(), true
}

// GetByBusinessID resolves businessID through the secondary index.
func (v *BusinessObjectVault) GetByBusinessID(businessID string) (BusinessObject, bool) {
	key, ok := v.byBusiness[businessID]
	if !ok {
		return nil, false
	}
	obj, ok := v.objects[key]
	if !ok {
		return nil, false
	}
	return obj.Clone(), true
}

// GetType returns the declared type of the first stored entry whose local id equals
// localID ignoring case.
func (v *BusinessObjectVault) GetType(localID string) (TypeTag, bool) {
	for _, key := range v.order {
		if strings.EqualFold(key.localID, localID) {
			return key.typ, true
		}
	}
	return "", false
}

// GetInstancesOf returns clones of every object declared with exactly typ.
func (v *BusinessObjectVault) GetInstancesOf(typ TypeTag) []BusinessObject {
	out := make([]BusinessObject, 0)
	for _, key := range v.order {
		if key.typ == typ {
			out = append(out, v.objects[key].Clone())
		}
	}
	return out
}

// LocalIDsByBusinessID builds a fresh mapping from each stored object, identified by
// its business id, to the local id it is stored under.
func (v *BusinessObjectVault) LocalIDsByBusinessID() map[string]string {
	out := make(map[string]string, len(v.objects))
	for _, key := range v.order {
		out[v.objects[key].BusinessID()] = key.localID
	}
	return out
}

// Entries returns every stored entry in insertion order.
func (v *BusinessObjectVault) Entries() []VaultEntry {
	out := make([]VaultEntry, 0, len(v.order))
	for _, key := range v.order {
		out = append(out, VaultEntry{LocalID: key.localID, Type: key.typ, Object: v.objects[key].Clone()})
	}
	return out
}

// Len returns the number of stored objects.
func (v *BusinessObjectVault) Len() int {
	return len(v.objects)
}

// VaultGet returns the object stored under (localID, typ) as T.
func VaultGet[T BusinessObject](v *BusinessObjectVault, localID string, typ TypeTag) (T, bool) {
	var zero T
	obj, ok := v.GetByLocalID(localID, typ)
	if !ok {
		return zero, false
	}
	t, ok := obj.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// InstancesOf returns every object declared with exactly typ that is a T.
func InstancesOf[T BusinessObject](v *BusinessObjectVault, typ TypeTag) []T {
	out := make([]T, 0)
	for _, obj := range v.GetInstancesOf(typ) {
		if t, ok := obj.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// isNilObject also catches typed nil pointers such as (*DataFile)(nil).
func isNilObject(obj BusinessObject) bool {
	if obj == nil {
		return true
	}
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}

func compoundKey(k vaultKey) string {
	return fmt.Sprintf("%s[%s]", k.localID, k.typ)
}
