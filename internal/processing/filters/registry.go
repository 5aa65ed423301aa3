package filters

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"

	"morpho-filters/internal/models"
)

// Factory builds a filter from its raw option map, as found in a pipeline file.
type Factory func(options map[string]interface{}, deps Dependencies) (Filter, error)

type Registration struct {
	Name        string
	Aliases     []string
	Description string
	Accepts     []models.Kind
	Generates   []models.Kind
	Factory     Factory
}

// Registry maps filter names and aliases to factories.
type Registry struct {
	entries map[string]Registration
	aliases map[string]string
	mu      sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Registration),
		aliases: make(map[string]string),
	}
}

// DefaultRegistry knows every filter of this package. Each is also reachable under
// its "pcv-" prefixed name.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	detection := []models.Kind{models.KindObjectDetection}
	for _, reg := range []Registration{
		{Name: DilateName, Description: DilateDescription, Generates: allKinds, Factory: dilateFactory},
		{Name: ErodeName, Description: ErodeDescription, Generates: allKinds, Factory: erodeFactory},
		{Name: FillName, Description: FillDescription, Generates: allKinds, Factory: fillFactory},
		{Name: FillHolesName, Description: FillHolesDescription, Generates: allKinds, Factory: fillHolesFactory},
		{Name: SkeletonizeName, Description: SkeletonizeDescription, Generates: allKinds, Factory: skeletonizeFactory},
		{Name: FindBranchPointsName, Description: FindBranchPointsDescription, Generates: detection, Factory: branchPointsFactory},
		{Name: FindTipsName, Description: FindTipsDescription, Generates: detection, Factory: tipsFactory},
	} {
		reg.Aliases = []string{"pcv-" + reg.Name}
		reg.Accepts = allKinds
		if err := r.Register(reg); err != nil {
			panic(err)
		}
	}

	return r
}

func (r *Registry) Register(reg Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg.Name == "" || reg.Factory == nil {
		return fmt.Errorf("registration needs a name and a factory")
	}

	for _, name := range append([]string{reg.Name}, reg.Aliases...) {
		if _, exists := r.entries[name]; exists {
			return fmt.Errorf("filter %q already registered", name)
		}
		if _, exists := r.aliases[name]; exists {
			return fmt.Errorf("filter %q already registered as alias", name)
		}
	}

	r.entries[reg.Name] = reg
	for _, alias := range reg.Aliases {
		r.aliases[alias] = reg.Name
	}
	return nil
}

func (r *Registry) Lookup(name string) (Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if canonical, ok := r.aliases[name]; ok {
		name = canonical
	}
	if reg, exists := r.entries[name]; exists {
		return reg, nil
	}

	return Registration{}, fmt.Errorf("unknown filter: %s", name)
}

func (r *Registry) Create(name string, options map[string]interface{}, deps Dependencies) (Filter, error) {
	reg, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return reg.Factory(options, deps)
}

// Names returns the canonical filter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := lo.Keys(r.entries)
	sort.Strings(names)
	return names
}

// Registrations returns every registration ordered by name.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := lo.Values(r.entries)
	sort.Slice(regs, func(i, j int) bool { return regs[i].Name < regs[j].Name })
	return regs
}

func dilateFactory(options map[string]interface{}, deps Dependencies) (Filter, error) {
	opts := DefaultKernelOptions()
	if err := decodeOptions(DilateName, options, &opts); err != nil {
		return nil, err
	}
	return asFilter(NewDilate(opts, deps))
}

func erodeFactory(options map[string]interface{}, deps Dependencies) (Filter, error) {
	opts := DefaultKernelOptions()
	if err := decodeOptions(ErodeName, options, &opts); err != nil {
		return nil, err
	}
	return asFilter(NewErode(opts, deps))
}

func fillFactory(options map[string]interface{}, deps Dependencies) (Filter, error) {
	opts := DefaultFillOptions()
	if err := decodeOptions(FillName, options, &opts); err != nil {
		return nil, err
	}
	return asFilter(NewFill(opts, deps))
}

func fillHolesFactory(options map[string]interface{}, deps Dependencies) (Filter, error) {
	opts := DefaultCommonOptions()
	if err := decodeOptions(FillHolesName, options, &opts); err != nil {
		return nil, err
	}
	return asFilter(NewFillHoles(opts, deps))
}

func skeletonizeFactory(options map[string]interface{}, deps Dependencies) (Filter, error) {
	opts := DefaultSkeletonizeOptions()
	if err := decodeOptions(SkeletonizeName, options, &opts); err != nil {
		return nil, err
	}
	return asFilter(NewSkeletonize(opts, deps))
}

func branchPointsFactory(options map[string]interface{}, deps Dependencies) (Filter, error) {
	opts := DefaultLocatorOptions()
	if err := decodeOptions(FindBranchPointsName, options, &opts); err != nil {
		return nil, err
	}
	return asFilter(NewFindBranchPoints(opts, deps))
}

func tipsFactory(options map[string]interface{}, deps Dependencies) (Filter, error) {
	opts := DefaultLocatorOptions()
	if err := decodeOptions(FindTipsName, options, &opts); err != nil {
		return nil, err
	}
	return asFilter(NewFindTips(opts, deps))
}

// asFilter keeps a failed constructor's typed nil out of the Filter interface.
func asFilter[F Filter](f F, err error) (Filter, error) {
	if err != nil {
		return nil, err
	}
	return f, nil
}
