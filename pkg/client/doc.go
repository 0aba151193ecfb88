/*
Package client is a small Go client for a node's control plane.

It wraps pkg/transport's hand-rolled ControlPlane gRPC service with a
convenient, typed interface: Get/Put/Delete against the replicated
key-value store, ClusterInfo for the current leader and server list,
and a package-level JoinCluster helper used by the CLI's "join"
command. There is no mTLS here — encryption in transit is out of scope
for this system — so connections are plain insecure gRPC.

# Usage

	c, err := client.NewClient("10.0.0.1:8080")
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	if err := c.Put("foo", []byte("bar")); err != nil {
		log.Fatal(err)
	}

	val, ok, err := c.Get("foo")
	if err != nil {
		log.Fatal(err)
	}

Joining an existing cluster as a new voter goes through the leader:

	err := client.JoinCluster("10.0.0.1:8080", "node-2", "10.0.0.2:8080", token)

# Not the leader

Writes and joins must land on the current Raft leader. If addr isn't
the leader, a join fails with an error naming the current leader's
address; a Put or Delete fails with Raft's not-leader error, which
does not name it (ClusterInfo reports the leader's address).
*/
package client
