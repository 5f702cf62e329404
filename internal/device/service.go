package device

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ----------------------------
// GATT references
// ----------------------------

// CharacteristicRef addresses a characteristic inside a service
type CharacteristicRef struct {
	Service string
	UUID    string
}

// NewCharacteristicRef builds a ref with normalized UUIDs
func NewCharacteristicRef(service, uuid string) CharacteristicRef {
	return CharacteristicRef{Service: normalizeOrKeep(service), UUID: normalizeOrKeep(uuid)}
}

func (r CharacteristicRef) String() string {
	return r.Service + "/" + r.UUID
}

// DescriptorRef addresses a descriptor inside a characteristic
type DescriptorRef struct {
	Service        string
	Characteristic string
	UUID           string
}

// NewDescriptorRef builds a ref with normalized UUIDs
func NewDescriptorRef(service, characteristic, uuid string) DescriptorRef {
	return DescriptorRef{
		Service:        normalizeOrKeep(service),
		Characteristic: normalizeOrKeep(characteristic),
		UUID:           normalizeOrKeep(uuid),
	}
}

// CharacteristicRef returns the ref of the owning characteristic
func (r DescriptorRef) CharacteristicRef() CharacteristicRef {
	return CharacteristicRef{Service: r.Service, UUID: r.Characteristic}
}

func (r DescriptorRef) String() string {
	return r.Service + "/" + r.Characteristic + "/" + r.UUID
}

// ServiceRef is a discovered service with its characteristics in discovery order
type ServiceRef struct {
	UUID            string
	Characteristics []CharacteristicRef
}

func normalizeOrKeep(uuid string) string {
	if n := NormalizeUUID(uuid); n != "" {
		return n
	}
	return uuid
}

// ----------------------------
// Services
// ----------------------------

// Services is the immutable result of service discovery, kept in discovery order
type Services struct {
	byUUID *orderedmap.OrderedMap[string, ServiceRef]
}

// NewServices builds a Services set. A later entry with the same UUID replaces the earlier one.
func NewServices(list []ServiceRef) *Services {
	om := orderedmap.New[string, ServiceRef]()
	for _, svc := range list {
		uuid := normalizeOrKeep(svc.UUID)
		chars := make([]CharacteristicRef, 0, len(svc.Characteristics))
		for _, c := range svc.Characteristics {
			chars = append(chars, CharacteristicRef{Service: uuid, UUID: normalizeOrKeep(c.UUID)})
		}
		om.Set(uuid, ServiceRef{UUID: uuid, Characteristics: chars})
	}
	return &Services{byUUID: om}
}

// Len returns the number of services
func (s *Services) Len() int {
	if s == nil {
		return 0
	}
	return s.byUUID.Len()
}

// List returns the services in discovery order
func (s *Services) List() []ServiceRef {
	if s == nil {
		return nil
	}
	result := make([]ServiceRef, 0, s.byUUID.Len())
	for pair := s.byUUID.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value)
	}
	return result
}

// UUIDs returns the service UUIDs in discovery order
func (s *Services) UUIDs() []string {
	if s == nil {
		return nil
	}
	result := make([]string, 0, s.byUUID.Len())
	for pair := s.byUUID.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Key)
	}
	return result
}

// Service looks up a service by UUID in any accepted format
func (s *Services) Service(uuid string) (ServiceRef, error) {
	if s != nil {
		if svc, ok := s.byUUID.Get(normalizeOrKeep(uuid)); ok {
			return svc, nil
		}
	}
	return ServiceRef{}, &NotFoundError{Resource: "service", UUIDs: []string{uuid}}
}

// Characteristic looks up a characteristic by service and characteristic UUID
func (s *Services) Characteristic(service, uuid string) (CharacteristicRef, error) {
	svc, err := s.Service(service)
	if err != nil {
		return CharacteristicRef{}, err
	}
	want := normalizeOrKeep(uuid)
	for _, c := range svc.Characteristics {
		if c.UUID == want {
			return c, nil
		}
	}
	return CharacteristicRef{}, &NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
}
