package kubectl

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

type objectMeta struct {
	Name      string            `yaml:"name"`
	Namespace string            `yaml:"namespace"`
	Labels    map[string]string `yaml:"labels,omitempty"`
}

type pvcResources struct {
	Requests map[string]string `yaml:"requests"`
}

type pvcSpec struct {
	AccessModes      []string     `yaml:"accessModes"`
	Resources        pvcResources `yaml:"resources"`
	StorageClassName string       `yaml:"storageClassName,omitempty"`
}

type persistentVolumeClaim struct {
	APIVersion string     `yaml:"apiVersion"`
	Kind       string     `yaml:"kind"`
	Metadata   objectMeta `yaml:"metadata"`
	Spec       pvcSpec    `yaml:"spec"`
}

type volumeMount struct {
	MountPath string `yaml:"mountPath"`
	Name      string `yaml:"name"`
}

type container struct {
	Name         string        `yaml:"name"`
	Image        string        `yaml:"image"`
	Command      []string      `yaml:"command"`
	VolumeMounts []volumeMount `yaml:"volumeMounts"`
}

type claimSource struct {
	ClaimName string `yaml:"claimName"`
}

type podVolume struct {
	Name                  string      `yaml:"name"`
	PersistentVolumeClaim claimSource `yaml:"persistentVolumeClaim"`
}

type podSpec struct {
	Containers    []container `yaml:"containers"`
	Volumes       []podVolume `yaml:"volumes"`
	RestartPolicy string      `yaml:"restartPolicy"`
}

type pod struct {
	APIVersion string     `yaml:"apiVersion"`
	Kind       string     `yaml:"kind"`
	Metadata   objectMeta `yaml:"metadata"`
	Spec       podSpec    `yaml:"spec"`
}

const managedByLabel = "app.kubernetes.io/managed-by"

func pvcManifest(name, namespace, size, storageClass string) ([]byte, error) {
	return encode(persistentVolumeClaim{
		APIVersion: "v1",
		Kind:       "PersistentVolumeClaim",
		Metadata:   objectMeta{Name: name, Namespace: namespace, Labels: map[string]string{managedByLabel: "autopipe"}},
		Spec: pvcSpec{
			AccessModes:      []string{"ReadWriteOnce"},
			Resources:        pvcResources{Requests: map[string]string{"storage": size}},
			StorageClassName: storageClass,
		},
	})
}

func accessPodManifest(name, namespace, claim, image, mountPath string) ([]byte, error) {
	return encode(pod{
		APIVersion: "v1",
		Kind:       "Pod",
		Metadata:   objectMeta{Name: name, Namespace: namespace, Labels: map[string]string{managedByLabel: "autopipe"}},
		Spec: podSpec{
			Containers: []container{{
				Name:         "pvc-access-container",
				Image:        image,
				Command:      []string{"sleep", "3600"},
				VolumeMounts: []volumeMount{{MountPath: mountPath, Name: "pvc-vol"}},
			}},
			Volumes:       []podVolume{{Name: "pvc-vol", PersistentVolumeClaim: claimSource{ClaimName: claim}}},
			RestartPolicy: "Never",
		},
	})
}

func encode(obj any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(obj); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}
