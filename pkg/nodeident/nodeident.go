// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package nodeident optionally discovers a node_id default from EC2
// instance metadata, supplementing the caller-supplied node_id the
// Batching Emitter requires. It is consumed only by cmd/polytect's
// wiring; pkg/emitter never calls it.
//
// Grounded on pkg/aws/client.go's WithAutoDiscovery option, narrowed from
// full region/account/EKS-cluster discovery to the single instance ID this
// domain needs.
package nodeident

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
)

// Discover returns the EC2 instance ID of the current host via the
// instance metadata service. It returns an error if the process is not
// running on EC2 or the metadata service is unreachable; callers should
// treat that as "no default available" rather than fatal.
func Discover(ctx context.Context) (string, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("nodeident: loading default AWS config: %w", err)
	}

	client := imds.NewFromConfig(cfg)
	doc, err := client.GetInstanceIdentityDocument(ctx, &imds.GetInstanceIdentityDocumentInput{})
	if err != nil {
		return "", fmt.Errorf("nodeident: instance metadata unavailable: %w", err)
	}

	return doc.InstanceID, nil
}
