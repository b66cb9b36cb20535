package memory

import (
	"fmt"
	"os"

	"github.com/vasiliy-maslov/ecommerce-microservices/settlement-service/internal/catalog"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Items []catalog.Item `yaml:"items"`
}

// LoadCatalog reads catalog items from a YAML file of the form
//
//	items:
//	  - id: sku-1
//	    title: Mug
//	    price: "100.00"
//	    stock: 10
func LoadCatalog(path string) ([]catalog.Item, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer file.Close()

	var cf catalogFile
	if err := yaml.NewDecoder(file).Decode(&cf); err != nil {
		return nil, fmt.Errorf("invalid catalog file %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(cf.Items))
	for _, it := range cf.Items {
		if it.ID == "" {
			return nil, fmt.Errorf("invalid catalog file %s: item without id", path)
		}
		if it.Stock < 0 {
			return nil, fmt.Errorf("invalid catalog file %s: item %s has negative stock", path, it.ID)
		}
		if _, dup := seen[it.ID]; dup {
			return nil, fmt.Errorf("invalid catalog file %s: duplicate item %s", path, it.ID)
		}
		seen[it.ID] = struct{}{}
	}

	return cf.Items, nil
}
