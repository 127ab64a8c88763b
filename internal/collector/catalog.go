package collector

import (
	"context"
	"fmt"
	"strings"
)

// Family groups catalog entries by the product surface they describe.
type Family string

const (
	FamilyGeneral Family = "general"
	FamilyClassic Family = "classic"
	FamilyGitOps  Family = "gitops"
	FamilyArgo    Family = "argo"
)

// Profile names a set of families collected together by one command.
type Profile string

const (
	ProfileGitOps    Profile = "gitops"
	ProfilePipelines Profile = "pipelines"
	ProfileOnPrem    Profile = "onprem"
	ProfileOSS       Profile = "oss"
	ProfileAll       Profile = "all"
)

var profileFamilies = map[Profile][]Family{
	ProfileGitOps:    {FamilyGeneral, FamilyGitOps, FamilyArgo},
	ProfilePipelines: {FamilyGeneral, FamilyClassic},
	ProfileOnPrem:    {FamilyGeneral, FamilyClassic},
	ProfileOSS:       {FamilyGeneral, FamilyArgo},
	ProfileAll:       {FamilyGeneral, FamilyClassic, FamilyGitOps, FamilyArgo},
}

// Aggregate identifies a derived fetch that composes several cluster reads.
type Aggregate string

const (
	AggregateSortedEvents Aggregate = "SortedEvents"
	AggregatePodLogs      Aggregate = "PodLogs"
	AggregateHelmReleases Aggregate = "HelmReleases"
)

// AccountLabel scopes persistent volume collection to Codefresh-managed volumes.
const AccountLabel = "io.codefresh.accountName"

// Strategy is how a catalog entry is fetched. The implementations are
// BuiltinList, CustomResourceList and DerivedAggregate.
type Strategy interface {
	fetch(ctx context.Context, r *run, namespace string) (any, error)
}

// BuiltinList lists a native resource through the typed clientset.
type BuiltinList struct {
	Resource      string
	ClusterScoped bool
	LabelSelector string
}

// CustomResourceList resolves the served version of Definition and lists its
// instances through the dynamic client.
type CustomResourceList struct {
	Definition string
}

// DerivedAggregate composes other reads into one value.
type DerivedAggregate struct {
	Aggregate Aggregate
}

// Entry is one fetchable resource type. Key doubles as the output field name.
type Entry struct {
	Key      string
	Family   Family
	Strategy Strategy
}

// ClusterScoped reports whether the entry ignores the namespace.
func (e Entry) ClusterScoped() bool {
	if b, ok := e.Strategy.(BuiltinList); ok {
		return b.ClusterScoped
	}
	return false
}

func builtin(key string, family Family) Entry {
	return Entry{Key: key, Family: family, Strategy: BuiltinList{Resource: key}}
}

func clusterBuiltin(key string, family Family) Entry {
	return Entry{Key: key, Family: family, Strategy: BuiltinList{Resource: key, ClusterScoped: true}}
}

func customResource(key string, family Family) Entry {
	return Entry{Key: key, Family: family, Strategy: CustomResourceList{Definition: key}}
}

func derived(key string, family Family, aggregate Aggregate) Entry {
	return Entry{Key: key, Family: family, Strategy: DerivedAggregate{Aggregate: aggregate}}
}

// DefaultCatalog returns the full ordered catalog. The returned slice is a fresh
// copy and may be filtered by the caller.
func DefaultCatalog() []Entry {
	return []Entry{
		builtin("configmaps", FamilyGeneral),
		builtin("cronjobs.batch", FamilyClassic),
		builtin("daemonsets.apps", FamilyGeneral),
		builtin("deployments.apps", FamilyGeneral),
		derived("events.k8s.io", FamilyGeneral, AggregateSortedEvents),
		builtin("jobs.batch", FamilyGeneral),
		clusterBuiltin("nodes", FamilyGeneral),
		builtin("pods", FamilyGeneral),
		derived("podlogs", FamilyGeneral, AggregatePodLogs),
		builtin("serviceaccounts", FamilyGeneral),
		builtin("services", FamilyGeneral),
		builtin("statefulsets.apps", FamilyGeneral),
		derived("helmreleases", FamilyGeneral, AggregateHelmReleases),
		{Key: "persistentvolumeclaims", Family: FamilyClassic, Strategy: BuiltinList{Resource: "persistentvolumeclaims", LabelSelector: AccountLabel}},
		{Key: "persistentvolumes", Family: FamilyClassic, Strategy: BuiltinList{Resource: "persistentvolumes", ClusterScoped: true, LabelSelector: AccountLabel}},
		clusterBuiltin("storageclasses.storage.k8s.io", FamilyClassic),

		customResource("products.codefresh.io", FamilyGitOps),
		customResource("promotionflows.codefresh.io", FamilyGitOps),
		customResource("promotionpolicies.codefresh.io", FamilyGitOps),
		customResource("promotiontemplates.codefresh.io", FamilyGitOps),
		customResource("restrictedgitsources.codefresh.io", FamilyGitOps),

		customResource("analysisruns.argoproj.io", FamilyArgo),
		customResource("analysistemplates.argoproj.io", FamilyArgo),
		customResource("applications.argoproj.io", FamilyArgo),
		customResource("applicationsets.argoproj.io", FamilyArgo),
		customResource("appprojects.argoproj.io", FamilyArgo),
		customResource("eventbus.argoproj.io", FamilyArgo),
		customResource("eventsources.argoproj.io", FamilyArgo),
		customResource("experiments.argoproj.io", FamilyArgo),
		customResource("rollouts.argoproj.io", FamilyArgo),
		customResource("sensors.argoproj.io", FamilyArgo),
	}
}

// Profiles returns the known profile names in a stable order.
func Profiles() []Profile {
	return []Profile{ProfileGitOps, ProfilePipelines, ProfileOnPrem, ProfileOSS, ProfileAll}
}

// Select returns the catalog entries belonging to the profile, in catalog order.
func Select(profile Profile) ([]Entry, error) {
	families, ok := profileFamilies[Profile(strings.ToLower(string(profile)))]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", profile)
	}
	wanted := make(map[Family]bool, len(families))
	for _, f := range families {
		wanted[f] = true
	}

	var entries []Entry
	for _, e := range DefaultCatalog() {
		if wanted[e.Family] {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Keys returns the keys of the entries in order.
func Keys(entries []Entry) []string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}
