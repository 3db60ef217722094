// Package patcher applies the post-deploy patches that point the operator's
// runtime at the local registry.
//
// Both patches mutate objects the operator reconciles, so each object is
// annotated as unmanaged before it is changed. The annotation must land
// first: a patch on a still-managed object would be reverted on the next
// reconcile.
package patcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
)

// UnmanagedAnnotation tells the operator's reconciler to leave the object
// alone.
const UnmanagedAnnotation = "operator.buildforge.io/unmanaged"

// TaskGVR identifies Tekton Task objects.
var TaskGVR = schema.GroupVersionResource{
	Group:    "tekton.dev",
	Version:  "v1",
	Resource: "tasks",
}

var (
	// ErrPushCommandNotFound is returned when the task script does not contain
	// the push command the rewrite targets. A missing match means the task
	// definition changed shape and the patch would silently do nothing, so it
	// is treated as fatal.
	ErrPushCommandNotFound = errors.New("push command not found in task script")

	// ErrTaskHasNoSteps is returned when the task definition carries no steps.
	ErrTaskHasNoSteps = errors.New("task has no steps")
)

// TaskScriptRewriter transforms a task step script. Implementations return
// ErrPushCommandNotFound when the expected pattern is absent.
type TaskScriptRewriter interface {
	Rewrite(script string) (string, error)
}

const (
	pushCommand         = "buildah push"
	insecurePushCommand = "buildah push --tls-verify=false"
)

// InsecurePushRewriter forces the push command in a task script onto plain
// HTTP. Rewriting an already-rewritten script is a no-op.
type InsecurePushRewriter struct{}

// Rewrite replaces the push command with its plain-HTTP-forced variant.
func (InsecurePushRewriter) Rewrite(script string) (string, error) {
	if strings.Contains(script, insecurePushCommand) {
		return script, nil
	}

	if !strings.Contains(script, pushCommand) {
		return "", ErrPushCommandNotFound
	}

	return strings.Replace(script, pushCommand, insecurePushCommand, 1), nil
}

// Patcher applies the runtime patches through the dynamic client.
type Patcher struct {
	dynamicClient dynamic.Interface
	namespace     string
	taskName      string
	registryRoute string
	rewriter      TaskScriptRewriter
	configGVR     schema.GroupVersionResource
	configName    string
}

// NewPatcher creates a patcher targeting the operator's config object and the
// named Tekton task in the given namespace.
func NewPatcher(
	dynamicClient dynamic.Interface,
	namespace string,
	taskName string,
	registryRoute string,
	configGVR schema.GroupVersionResource,
	configName string,
) *Patcher {
	return &Patcher{
		dynamicClient: dynamicClient,
		namespace:     namespace,
		taskName:      taskName,
		registryRoute: registryRoute,
		rewriter:      InsecurePushRewriter{},
		configGVR:     configGVR,
		configName:    configName,
	}
}

// WithRewriter replaces the task script rewriter.
func (p *Patcher) WithRewriter(rewriter TaskScriptRewriter) *Patcher {
	p.rewriter = rewriter

	return p
}

// Apply runs both patches in order.
func (p *Patcher) Apply(ctx context.Context) error {
	err := p.PatchRegistryRoute(ctx)
	if err != nil {
		return err
	}

	return p.PatchTaskScript(ctx)
}

// PatchRegistryRoute merge-patches the operator config's registry route to the
// shimmed registry address.
func (p *Patcher) PatchRegistryRoute(ctx context.Context) error {
	configs := p.dynamicClient.Resource(p.configGVR).Namespace(p.namespace)

	err := p.markUnmanaged(ctx, configs, p.configName)
	if err != nil {
		return fmt.Errorf("failed to mark operator config unmanaged: %w", err)
	}

	payload, err := json.Marshal(map[string]any{
		"spec": map[string]any{
			"registryRoute": p.registryRoute,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal registry route patch: %w", err)
	}

	_, err = configs.Patch(ctx, p.configName, types.MergePatchType, payload, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("failed to patch operator config registry route: %w", err)
	}

	return nil
}

// PatchTaskScript rewrites the first step script of the push task in place.
func (p *Patcher) PatchTaskScript(ctx context.Context) error {
	tasks := p.dynamicClient.Resource(TaskGVR).Namespace(p.namespace)

	err := p.markUnmanaged(ctx, tasks, p.taskName)
	if err != nil {
		return fmt.Errorf("failed to mark task %s unmanaged: %w", p.taskName, err)
	}

	task, err := tasks.Get(ctx, p.taskName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("failed to get task %s: %w", p.taskName, err)
	}

	err = p.rewriteFirstStepScript(task)
	if err != nil {
		return fmt.Errorf("failed to rewrite task %s script: %w", p.taskName, err)
	}

	_, err = tasks.Update(ctx, task, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", p.taskName, err)
	}

	return nil
}

// markUnmanaged annotates the object so the reconciler ignores it.
func (p *Patcher) markUnmanaged(
	ctx context.Context,
	resource dynamic.ResourceInterface,
	name string,
) error {
	payload, err := json.Marshal(map[string]any{
		"metadata": map[string]any{
			"annotations": map[string]string{
				UnmanagedAnnotation: "true",
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal unmanaged annotation patch: %w", err)
	}

	_, err = resource.Patch(ctx, name, types.MergePatchType, payload, metav1.PatchOptions{})
	if err != nil {
		return fmt.Errorf("failed to annotate %s: %w", name, err)
	}

	return nil
}

// rewriteFirstStepScript runs the rewriter over spec.steps[0].script.
func (p *Patcher) rewriteFirstStepScript(task *unstructured.Unstructured) error {
	steps, found, err := unstructured.NestedSlice(task.Object, "spec", "steps")
	if err != nil {
		return fmt.Errorf("failed to read task steps: %w", err)
	}

	if !found || len(steps) == 0 {
		return ErrTaskHasNoSteps
	}

	step, ok := steps[0].(map[string]any)
	if !ok {
		return ErrTaskHasNoSteps
	}

	script, _ := step["script"].(string)

	rewritten, err := p.rewriter.Rewrite(script)
	if err != nil {
		return err
	}

	step["script"] = rewritten
	steps[0] = step

	err = unstructured.SetNestedSlice(task.Object, steps, "spec", "steps")
	if err != nil {
		return fmt.Errorf("failed to write task steps: %w", err)
	}

	return nil
}
