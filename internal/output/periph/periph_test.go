package periph

import (
	"testing"

	"github.com/larsks/switchsync/internal/output"
)

func TestRegistered(t *testing.T) {
	found := false
	for _, name := range output.ListDrivers() {
		if name == "periph" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected output driver periph not found in registry")
	}
}

func TestValidateConfig(t *testing.T) {
	if err := output.ValidateConfig("periph", map[string]interface{}{"pin": "GPIO23:active-low"}); err != nil {
		t.Errorf("Valid periph config should not produce error: %v", err)
	}
	if err := output.ValidateConfig("periph", map[string]interface{}{"pin": "SPI0_MOSI"}); err != nil {
		t.Errorf("Functional pin names should be accepted: %v", err)
	}
	if err := output.ValidateConfig("periph", map[string]interface{}{}); err == nil {
		t.Error("Missing pin should produce error")
	}
	if err := output.ValidateConfig("periph", map[string]interface{}{"pin": "GPIO23:inverted"}); err == nil {
		t.Error("Invalid polarity should produce error")
	}
}
