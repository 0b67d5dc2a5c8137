package configsync

import (
	"bytes"
	"encoding/json"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ecs"

	"github.com/UKHomeOffice/albsync/internal/envfile"
	"github.com/UKHomeOffice/albsync/internal/fault"
)

// readOnlyFields are assigned by ECS and rejected by RegisterTaskDefinition
var readOnlyFields = []string{
	"TaskDefinitionArn",
	"Revision",
	"Status",
	"RequiresAttributes",
	"Compatibilities",
	"RegisteredAt",
	"RegisteredBy",
	"DeregisteredAt",
}

// document is a task definition as a generic JSON object
type document map[string]interface{}

// setEnvironment replaces the environment of the first container called name
func setEnvironment(td *ecs.TaskDefinition, name string, entries []envfile.Entry) error {

	env := make([]*ecs.KeyValuePair, 0, len(entries))
	for _, e := range entries {
		env = append(env, &ecs.KeyValuePair{
			Name:  aws.String(e.Name),
			Value: aws.String(e.Value),
		})
	}

	for _, c := range td.ContainerDefinitions {
		if aws.StringValue(c.Name) == name {
			c.Environment = env
			return nil
		}
	}
	return fault.Invalid("container not found: %s", name)
}

func toDocument(td *ecs.TaskDefinition) (document, error) {
	b, err := json.Marshal(td)
	if err != nil {
		return nil, fault.Invalid("could not marshal task definition: %v", err)
	}

	// keep numbers as written so large values survive the round trip
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var doc document
	err = dec.Decode(&doc)
	if err != nil {
		return nil, fault.Invalid("could not decode task definition: %v", err)
	}
	return doc, nil
}

// strip removes the fields ECS sets on a registered revision
func (d document) strip() {
	for _, k := range readOnlyFields {
		delete(d, k)
	}
}

// registerInput turns the document into a registration request for a new revision.
// The typed decode also drops any key RegisterTaskDefinition does not accept.
func (d document) registerInput() (*ecs.RegisterTaskDefinitionInput, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fault.Invalid("could not marshal task definition document: %v", err)
	}

	var in ecs.RegisterTaskDefinitionInput
	err = json.Unmarshal(b, &in)
	if err != nil {
		return nil, fault.Invalid("could not build registration request: %v", err)
	}
	return &in, nil
}
