package traceability

import (
	"qrtrace/internal/models"
)

// FindLine returns the index of the first line carrying itemID. Location is a
// soft filter: a line is skipped only when both locationID and the line's
// location are set and differ. There is no scoring; first match wins.
func FindLine(doc *models.DownstreamDocument, itemID, locationID string) (int, error) {
	if doc != nil {
		for i, line := range doc.Lines {
			if line.Item.ID != itemID {
				continue
			}
			if locationID != "" && line.Location.ID != "" && line.Location.ID != locationID {
				continue
			}
			return i, nil
		}
	}
	return -1, &LineNotFoundError{ItemID: itemID}
}

// FindLineForPayload matches a decoded payload and names the item on failure.
func FindLineForPayload(doc *models.DownstreamDocument, p Payload) (int, error) {
	idx, err := FindLine(doc, p.Item.ID, p.Location.ID)
	if err != nil {
		return -1, &LineNotFoundError{ItemID: p.Item.ID, ItemName: p.Item.Name}
	}
	return idx, nil
}
