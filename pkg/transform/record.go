// Package transform projects an entity subdocument into the target record schema.
package transform

import (
	"bytes"
	"encoding/json"
)

// IndividualEntityType is the legal entity type of natural persons
const IndividualEntityType = "INDIVIDUAL"

// Field is an optional record value. A present field may hold nil, which
// is written as null; an absent field is left out of the output.
type Field struct {
	Value   interface{}
	Present bool
}

// Set returns a present field
func Set(v interface{}) Field {
	return Field{Value: v, Present: true}
}

// Record is the target entity schema
type Record struct {
	NombreRazonSocial Field
	Nit               string
	Adjudicado        bool
	TipoOrganizacion  Field
	NombrePersona     Field
	Departamento      Field
	Municipio         Field
	Direccion         Field
	Telefono          Field
}

// MarshalJSON writes present fields in schema order
func (r Record) MarshalJSON() ([]byte, error) {
	fields := []struct {
		key   string
		field Field
	}{
		{"nombre_razon_social", r.NombreRazonSocial},
		{"nit", Set(r.Nit)},
		{"adjudicado", Set(r.Adjudicado)},
		{"tipo_organizacion", r.TipoOrganizacion},
		{"nombre_persona", r.NombrePersona},
		{"departamento", r.Departamento},
		{"municipio", r.Municipio},
		{"direccion", r.Direccion},
		{"telefono", r.Telefono},
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	buf.WriteByte('{')
	first := true
	for _, f := range fields {
		if !f.field.Present {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false

		if err := enc.Encode(f.key); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1)
		buf.WriteByte(':')
		if err := enc.Encode(f.field.Value); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Build assembles the record for id from its subdocument. hasDoc is false
// when no subdocument was extracted; the record then only carries the id.
func Build(id string, doc interface{}, hasDoc bool) Record {
	rec := Record{Nit: id, Adjudicado: true}
	if !hasDoc {
		return rec
	}

	if name, ok := lookup(doc, "name"); ok {
		rec.NombreRazonSocial = Set(name)
	}

	if desc, ok := lookup(doc, "details", "legalEntityTypeDetail", "description"); ok && truthy(desc) {
		rec.TipoOrganizacion = Set(desc)
		if desc == IndividualEntityType {
			rec.NombrePersona = Set(nil)
			if name, ok := rec.NombreRazonSocial.Value.(string); ok {
				if persona, ok := ParseRazonSocial(name); ok {
					rec.NombrePersona = Set(persona)
				}
			}
		}
	}

	if address, ok := lookup(doc, "address"); ok && truthy(address) {
		rec.Departamento = get(address, "region")
		rec.Municipio = get(address, "locality")
		rec.Direccion = get(address, "streetAddress")
	}

	if phone, ok := lookup(doc, "contactPoint", "telephone"); ok && truthy(phone) {
		rec.Telefono = Set(phone)
	}

	return rec
}

func get(v interface{}, key string) Field {
	if value, ok := lookup(v, key); ok {
		return Set(value)
	}
	return Field{}
}
