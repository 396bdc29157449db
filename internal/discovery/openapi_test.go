package discovery

import (
	"testing"
)

const petSpec = `openapi: 3.0.3
info:
  title: Pet Service
  version: 1.0.0
servers:
  - url: https://pets.example.com/api/v1
paths:
  /pets:
    get:
      operationId: pets.list
      parameters:
        - name: limit
          in: query
          schema:
            type: integer
      responses:
        "200":
          description: pets
          content:
            application/json:
              schema:
                $ref: '#/components/schemas/ListPetsResponse'
    post:
      operationId: pets.insert
      requestBody:
        content:
          application/json:
            schema:
              $ref: '#/components/schemas/Pet'
      responses:
        "200":
          description: created
  /pets/{petId}:
    get:
      operationId: pets.get
      parameters:
        - name: petId
          in: path
          required: true
          schema:
            type: string
      responses:
        "200":
          description: a pet
          content:
            application/json:
              schema:
                $ref: '#/components/schemas/Pet'
components:
  schemas:
    Pet:
      type: object
      properties:
        id:
          type: string
        weight:
          type: number
          format: double
        friend:
          $ref: '#/components/schemas/Pet'
    ListPetsResponse:
      type: object
      properties:
        items:
          type: array
          items:
            $ref: '#/components/schemas/Pet'
        nextPageToken:
          type: string
`

func TestParseOpenAPI(t *testing.T) {
	doc, err := ParseOpenAPI([]byte(petSpec), "petsvc", "v1")
	if err != nil {
		t.Fatalf("ParseOpenAPI() error = %v", err)
	}

	if doc.Name != "petsvc" || doc.Version != "v1" {
		t.Errorf("identity = %s/%s, want petsvc/v1", doc.Name, doc.Version)
	}
	if doc.Title != "Pet Service" {
		t.Errorf("Title = %q, want Pet Service", doc.Title)
	}
	if doc.BaseURL() != "https://pets.example.com/api/v1/" {
		t.Errorf("BaseURL() = %q", doc.BaseURL())
	}

	pet, ok := doc.Schema("Pet")
	if !ok {
		t.Fatal("Pet schema missing from arena")
	}
	if pet.Properties["weight"].Type != "number" || pet.Properties["weight"].Format != "double" {
		t.Errorf("weight = %+v, want number/double", pet.Properties["weight"])
	}
	// Self-references stay symbolic rather than inlined.
	if pet.Properties["friend"].Ref != "Pet" {
		t.Errorf("friend ref = %q, want Pet", pet.Properties["friend"].Ref)
	}
}

func TestParseOpenAPI_methodTree(t *testing.T) {
	doc, err := ParseOpenAPI([]byte(petSpec), "petsvc", "v1")
	if err != nil {
		t.Fatalf("ParseOpenAPI() error = %v", err)
	}

	list, err := doc.ResolveMethod("pets.list")
	if err != nil {
		t.Fatalf("ResolveMethod(pets.list) error = %v", err)
	}
	if list.HTTPMethod != "GET" || list.Path != "pets" {
		t.Errorf("pets.list = %s %q", list.HTTPMethod, list.Path)
	}
	if list.ResponseRef() != "ListPetsResponse" {
		t.Errorf("ResponseRef() = %q, want ListPetsResponse", list.ResponseRef())
	}
	if list.Parameters["limit"] == nil || list.Parameters["limit"].Type != "integer" {
		t.Errorf("limit parameter = %+v, want integer query param", list.Parameters["limit"])
	}

	get, err := doc.ResolveMethod("pets.get")
	if err != nil {
		t.Fatalf("ResolveMethod(pets.get) error = %v", err)
	}
	if p := get.Parameters["petId"]; p == nil || p.Location != "path" || !p.Required {
		t.Errorf("petId parameter = %+v, want required path param", get.Parameters["petId"])
	}

	insert, err := doc.ResolveMethod("pets.insert")
	if err != nil {
		t.Fatalf("ResolveMethod(pets.insert) error = %v", err)
	}
	if !insert.Creation() {
		t.Error("pets.insert should be a creation call")
	}
	if insert.Request == nil || insert.Request.Ref != "Pet" {
		t.Errorf("Request = %+v, want ref to Pet", insert.Request)
	}
}

func TestParseAny_formatDetection(t *testing.T) {
	doc, err := ParseAny([]byte(petSpec), "petsvc", "v1")
	if err != nil {
		t.Fatalf("ParseAny(openapi) error = %v", err)
	}
	if _, ok := doc.Schema("Pet"); !ok {
		t.Error("OpenAPI input not routed to the OpenAPI parser")
	}

	doc, err = ParseAny([]byte(orderDocument), "ordersvc", "v2")
	if err != nil {
		t.Fatalf("ParseAny(native) error = %v", err)
	}
	if _, ok := doc.Schema("Order"); !ok {
		t.Error("native input not routed to the native parser")
	}
}

func TestInsertMethod_flatOperationID(t *testing.T) {
	doc := &Document{
		Name:      "svc",
		Version:   "v1",
		Methods:   map[string]*Method{},
		Resources: map[string]*Resource{},
	}
	doc.insertMethod("ping", &Method{ID: "ping", Path: "ping", HTTPMethod: "GET"})

	method, err := doc.ResolveMethod("ping")
	if err != nil {
		t.Fatalf("ResolveMethod(ping) error = %v", err)
	}
	if method.ID != "ping" {
		t.Errorf("ID = %q, want ping", method.ID)
	}
}
