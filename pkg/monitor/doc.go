// Package monitor tracks per-operation success and failure rates over
// sliding time windows. The engine records every evaluation outcome here;
// alerting collaborators query the rates against their own thresholds.
package monitor
